// Package semantic implements hybrid lexical+vector retrieval and the
// entity/fact dedup path — the Semantic responsibility of the engine.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cortexmem/cortexmem/internal/embedding"
	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// Config holds the tunables that drive retrieval fusion and dedup.
type Config struct {
	FusedWeight      float64 // w_s, default 0.6
	RecencyWeight    float64 // w_r, default 0.2
	ImportanceWeight float64 // w_i, default 0.2
	SemanticThreshold float64 // default 0.3, applied to fused score
	DedupThreshold    float64 // default 0.92, cosine
	CollectionName    string  // primary vector collection
	CandidateFanout   int     // K_v = K_l, default 4
}

func DefaultConfig() Config {
	return Config{
		FusedWeight:       0.6,
		RecencyWeight:     0.2,
		ImportanceWeight:  0.2,
		SemanticThreshold: 0.3,
		DedupThreshold:    0.92,
		CollectionName:    "primary",
		CandidateFanout:   4,
	}
}

const rrfK = 60.0

// Engine implements hybrid retrieval and dedup over a Store/VectorIndex/
// LexicalIndex/Embedder quartet.
type Engine struct {
	store    storage.Store
	vectors  storage.VectorIndex
	lexical  storage.LexicalIndex
	embedder embedding.Embedder
	cfg      Config
}

func NewEngine(store storage.Store, vectors storage.VectorIndex, lexical storage.LexicalIndex, embedder embedding.Embedder, cfg Config) *Engine {
	return &Engine{store: store, vectors: vectors, lexical: lexical, embedder: embedder, cfg: cfg}
}

// WithCollection returns a shallow copy of the engine pointed at a
// different vector collection, used once the migration FULL phase flips
// the active read pointer from the primary to the secondary collection.
func (e *Engine) WithCollection(collection string) *Engine {
	cp := *e
	cp.cfg.CollectionName = collection
	return &cp
}

// WithConfig returns a shallow copy of the engine with cfg replacing its
// weights/thresholds wholesale, used by the domain manager to apply a
// hot-reloaded configuration without disturbing in-flight retrievals on the
// engine being replaced.
func (e *Engine) WithConfig(cfg Config) *Engine {
	cp := *e
	cp.cfg = cfg
	return &cp
}

// Result is one ranked retrieval hit.
type Result struct {
	Memory *types.Memory
	Score  float64
}

// Retrieve runs the hybrid fan-out, RRF fusion, recency/importance
// re-weighting, and threshold/top-k selection described in §4.3, then
// applies the access side-effect to every returned id.
func (e *Engine) Retrieve(ctx context.Context, query string, model string, k int, filter storage.SearchFilter) ([]Result, error) {
	candidateK := k * e.cfg.CandidateFanout

	var vecHits, lexHits []storage.ScoredID
	var vecErr, lexErr error

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		vector, err := e.embedder.Embed(ctx, query, model)
		if err != nil {
			vecErr = err
			return
		}
		vecHits, vecErr = e.vectors.Search(ctx, e.cfg.CollectionName, vector, candidateK, filter)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		lexHits, lexErr = e.lexical.Search(ctx, query, candidateK, filter)
	}()
	<-done
	<-done

	if vecErr != nil && lexErr != nil {
		return nil, fmt.Errorf("semantic: both vector and lexical search failed: %v / %v", vecErr, lexErr)
	}

	normalize(vecHits)
	normalize(lexHits)

	fused := fuseRRF(vecHits, lexHits)

	// A raw RRF sum is at most 2/(rrfK+1) (rank 1 in both sources); dividing
	// by that maximum puts the fused score in [0, 1] for the threshold and
	// the re-weighting.
	maxFused := 2.0 / (rrfK + 1)

	var above []struct {
		id    string
		fused float64
	}
	for id, score := range fused {
		score /= maxFused
		if score >= e.cfg.SemanticThreshold {
			above = append(above, struct {
				id    string
				fused float64
			}{id, score})
		}
	}

	now := time.Now().UTC()
	var results []Result
	for _, a := range above {
		m, err := e.store.Get(ctx, a.id)
		if err != nil {
			continue
		}
		if len(filter.Types) > 0 {
			match := false
			for _, t := range filter.Types {
				if t == string(m.Type) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		recency := math.Exp(-now.Sub(m.CreatedAt).Hours() / 24 / 30)
		final := e.cfg.FusedWeight*a.fused + e.cfg.RecencyWeight*recency + e.cfg.ImportanceWeight*m.Importance
		results = append(results, Result{Memory: m, Score: final})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}

	var accessed []storage.AccessUpdate
	for _, r := range results {
		accessed = append(accessed, storage.AccessUpdate{ID: r.Memory.ID, At: now})
	}
	if len(accessed) > 0 {
		if err := e.store.ApplyAccess(ctx, accessed); err != nil {
			return nil, fmt.Errorf("semantic: apply access: %w", err)
		}
	}

	return results, nil
}

// normalize min-max scales scores in place to [0, 1] over the given set.
func normalize(hits []storage.ScoredID) {
	if len(hits) == 0 {
		return
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	spread := max - min
	for i := range hits {
		if spread == 0 {
			hits[i].Score = 1
			continue
		}
		hits[i].Score = (hits[i].Score - min) / spread
	}
}

// fuseRRF computes score(id) = Σ_source 1/(60 + rank_source(id)) across both
// ranked result sets (rank is 1-indexed within each source).
func fuseRRF(sources ...[]storage.ScoredID) map[string]float64 {
	scores := map[string]float64{}
	for _, source := range sources {
		for rank, hit := range source {
			scores[hit.ID] += 1.0 / (rrfK + float64(rank+1))
		}
	}
	return scores
}
