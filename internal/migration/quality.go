package migration

import (
	"math"

	"github.com/cortexmem/cortexmem/internal/storage"
)

// ProbeResult is one comparison of the primary and secondary collections'
// hybrid retrieval output for a single real retrieve call, sampled during
// CANARY and accumulated continuously during GRADUAL.
type ProbeResult struct {
	Primary     []storage.ScoredID
	Secondary   []storage.ScoredID
	QueryVector []float32
	// SecondaryVectors maps a ScoredID.ID from Secondary to its embedding
	// under the target model, used for the average-cosine term.
	SecondaryVectors map[string][]float32
}

// qualitySignal computes the combined [0,1] quality score for one probe:
// top-10 id overlap between primary and secondary, averaged with the mean
// cosine similarity of the secondary's re-ranked ids against the query
// vector under the target model.
func qualitySignal(p ProbeResult) float64 {
	overlap := topKOverlap(p.Primary, p.Secondary, 10)
	cosine := averageCosine(p.Secondary, p.QueryVector, p.SecondaryVectors, 10)
	combined := 0.5*overlap + 0.5*cosine
	if combined < 0 {
		combined = 0
	}
	if combined > 1 {
		combined = 1
	}
	return combined
}

func topKOverlap(a, b []storage.ScoredID, k int) float64 {
	setA := topKSet(a, k)
	if len(setA) == 0 {
		return 0
	}
	matches := 0
	for _, hit := range topK(b, k) {
		if setA[hit.ID] {
			matches++
		}
	}
	return float64(matches) / float64(len(setA))
}

func topKSet(hits []storage.ScoredID, k int) map[string]bool {
	set := make(map[string]bool, k)
	for _, hit := range topK(hits, k) {
		set[hit.ID] = true
	}
	return set
}

func topK(hits []storage.ScoredID, k int) []storage.ScoredID {
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}

func averageCosine(hits []storage.ScoredID, query []float32, vectors map[string][]float32, k int) float64 {
	top := topK(hits, k)
	if len(top) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, hit := range top {
		vec, ok := vectors[hit.ID]
		if !ok {
			continue
		}
		sum += cosineSimilarity(query, vec)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// probeHistory is a simple unbounded-append rolling window: the rolling
// mean gate only evaluates once at least ProbeWindow samples have
// accumulated, per §4.6's ">= 50 probes" gate precondition.
type probeHistory struct {
	scores []float64
}

func (h *probeHistory) add(score float64) {
	h.scores = append(h.scores, score)
}

// rollingMean returns the mean of the most recent window samples and true,
// or (0, false) if fewer than window samples have been recorded yet.
func (h *probeHistory) rollingMean(window int) (float64, bool) {
	if len(h.scores) < window {
		return 0, false
	}
	recent := h.scores[len(h.scores)-window:]
	var sum float64
	for _, s := range recent {
		sum += s
	}
	return sum / float64(len(recent)), true
}
