package domain

import (
	"context"

	"github.com/cortexmem/cortexmem/internal/migration"
	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// migrationProbeK is the comparison depth for the CANARY/GRADUAL quality
// probe, matching the top-10 overlap/cosine window qualitySignal expects.
const migrationProbeK = 10

// isDualWritePhase reports whether store_memory/update_memory must also
// write into the migration's secondary collection: SHADOW begins
// accumulating secondary vectors, CANARY and GRADUAL keep them current
// while probes run, and FULL keeps dual-writing so ROLLING_BACK remains
// possible after the active read pointer has flipped.
func isDualWritePhase(phase types.MigrationPhase) bool {
	switch phase {
	case types.MigrationShadow, types.MigrationCanary, types.MigrationGradual, types.MigrationFull:
		return true
	default:
		return false
	}
}

// dualWriteSecondary best-effort embeds content under the migration's
// secondary model and upserts it into the secondary collection. Failures
// are swallowed here: the primary write already succeeded, and GRADUAL's
// own batch reconciliation pass (and its deferred-id retry) is what
// actually makes secondary coverage authoritative, not this inline path.
func (m *Manager) dualWriteSecondary(ctx context.Context, id string, content types.Content) {
	status := m.migration.Status()
	if !isDualWritePhase(status.Phase) || status.SecondaryModel == "" {
		return
	}
	vector, err := m.embedder.Embed(ctx, content.Project(), status.SecondaryModel)
	if err != nil {
		return
	}
	_ = m.vectors.Upsert(ctx, migration.SecondaryCollection, id, vector)
}

// maybeProbeMigration runs the CANARY/GRADUAL dual-collection comparison
// for one retrieve_memory call: CANARY samples a fraction of calls through
// the rate-limited sampler, GRADUAL probes continuously since reads are
// still served from primary throughout both phases. The resulting quality
// signal feeds the migration controller's rolling rollback gate.
func (m *Manager) maybeProbeMigration(ctx context.Context, query string, filter storage.SearchFilter) {
	status := m.migration.Status()
	switch status.Phase {
	case types.MigrationCanary:
		if m.canarySampler == nil || !m.canarySampler.Allow() {
			return
		}
	case types.MigrationGradual:
		// continuous, no sampling
	default:
		return
	}
	if status.SecondaryModel == "" {
		return
	}

	primaryVector, err := m.embedder.Embed(ctx, query, status.PrimaryModel)
	if err != nil {
		return
	}
	primaryHits, err := m.vectors.Search(ctx, migration.PrimaryCollection, primaryVector, migrationProbeK, filter)
	if err != nil {
		return
	}

	secondaryVector, err := m.embedder.Embed(ctx, query, status.SecondaryModel)
	if err != nil {
		return
	}
	secondaryHits, err := m.vectors.Search(ctx, migration.SecondaryCollection, secondaryVector, migrationProbeK, filter)
	if err != nil {
		return
	}

	m.migration.RecordProbe(migration.ProbeResult{
		Primary:          primaryHits,
		Secondary:        secondaryHits,
		QueryVector:      secondaryVector,
		SecondaryVectors: m.secondaryVectorsFor(ctx, secondaryHits, status.SecondaryModel),
	})
}

// secondaryVectorsFor re-embeds each probed hit's content under model so
// the quality signal can compare it against the query vector under the
// same model; the cached embedder this runs through makes repeated probes
// of the same stable memories cheap.
func (m *Manager) secondaryVectorsFor(ctx context.Context, hits []storage.ScoredID, model string) map[string][]float32 {
	vectors := make(map[string][]float32, len(hits))
	for _, hit := range hits {
		mem, err := m.store.Get(ctx, hit.ID)
		if err != nil {
			continue
		}
		vector, err := m.embedder.Embed(ctx, mem.Content.Project(), model)
		if err != nil {
			continue
		}
		vectors[hit.ID] = vector
	}
	return vectors
}
