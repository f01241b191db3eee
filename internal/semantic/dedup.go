package semantic

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// Dedup probes the primary collection for an existing fact/entity within the
// tight dedup threshold (cosine >= DedupThreshold). On a hit it merges tags
// and source into the existing record and returns its id; the caller must
// skip the normal put path for that id. On a miss it returns ("", nil) and
// the caller proceeds with a fresh put.
func (e *Engine) Dedup(ctx context.Context, incoming *types.Memory, vector []float32) (string, error) {
	if incoming.Type != types.TypeFact && incoming.Type != types.TypeEntity {
		return "", nil
	}

	hits, err := e.vectors.Search(ctx, e.cfg.CollectionName, vector, 1, storage.SearchFilter{})
	if err != nil {
		return "", fmt.Errorf("semantic: dedup probe: %w", err)
	}
	if len(hits) == 0 || hits[0].Score < e.cfg.DedupThreshold {
		return "", nil
	}

	existingID := hits[0].ID
	existing, err := e.store.Get(ctx, existingID)
	if err != nil {
		return "", fmt.Errorf("semantic: dedup fetch existing %s: %w", existingID, err)
	}

	existing.MergeTags(incoming.Tags)
	if incoming.Source != "" {
		existing.Source = unionSource(existing.Source, incoming.Source)
	}
	if incoming.Importance > existing.Importance {
		existing.Importance = incoming.Importance
	}

	if _, err := e.store.Update(ctx, existingID, func(m *types.Memory) error {
		m.Tags = existing.Tags
		m.Source = existing.Source
		m.Importance = existing.Importance
		return nil
	}); err != nil {
		return "", fmt.Errorf("semantic: dedup merge update %s: %w", existingID, err)
	}

	return existingID, nil
}

func unionSource(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if existing == incoming {
		return existing
	}
	return existing + "," + incoming
}
