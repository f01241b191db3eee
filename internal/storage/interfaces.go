package storage

import (
	"context"

	"github.com/cortexmem/cortexmem/pkg/types"
)

// Store is the Persistence contract of §4.1. All operations are
// asynchronous (context-bearing) and idempotent per id. Implementations
// (sqlite, postgres) MUST preserve the "index before inline" write ordering
// and "record before index" delete ordering documented on Put/Delete below.
type Store interface {
	// Put stores a new memory. EmbeddingRef may be null; the embedding is
	// written to the vector index by the caller (Semantic/embedding layer)
	// before Put is invoked for the memory record itself, satisfying
	// invariant 3 without requiring Put to know about the vector backend.
	Put(ctx context.Context, m *types.Memory) error

	// Get retrieves a memory by id. Returns types.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Update applies a partial mutation and returns the new record.
	// Returns types.ErrNotFound if the id does not exist.
	Update(ctx context.Context, id string, patch func(*types.Memory) error) (*types.Memory, error)

	// Delete removes a memory record. Callers MUST remove the memory record
	// before sweeping index entries ("record before index") so that a
	// concurrent reader never observes a lexical/vector hit whose referenced
	// memory is gone.
	Delete(ctx context.Context, id string) error

	// List returns a filtered, paginated page of memories.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Memory], error)

	// MoveTier transitions a memory's tier. Returns types.ErrInvalidTransition
	// if the move violates the tier graph (see types.IsValidTierTransition).
	MoveTier(ctx context.Context, id string, newTier types.Tier) error

	// Stats returns aggregate counts by type/tier and index sizes.
	Stats(ctx context.Context) (Stats, error)

	// ApplyAccess applies access-side-effects for the given updates in slice
	// order. The semantic engine calls it once per retrieval with that
	// retrieval's returned ids; updates are not batched across retrievals.
	ApplyAccess(ctx context.Context, updates []AccessUpdate) error

	// ListForDecay returns all non-archived memories for the Temporal loop
	// to re-score. Implementations should stream/page internally for large
	// stores; the signature returns a full slice for simplicity given the
	// engine's expected scale.
	ListForDecay(ctx context.Context) ([]*types.Memory, error)

	// ExpireArchived permanently deletes archived memories older than
	// olderThanDays, returning their ids and final importance for the
	// caller to log (the data model's "never silently lost" guarantee).
	ExpireArchived(ctx context.Context, olderThanDays int) ([]ExpiredMemory, error)

	Close() error
}

// ExpiredMemory is one permanently-removed archived memory, returned so the
// Temporal loop can log its id and final importance.
type ExpiredMemory struct {
	ID         string
	Importance float64
}

// VectorIndex is the vector half of a collection: an external ANN backend
// storing (id, vector, payload) tuples. Persistence backends implement one
// VectorIndex per collection (primary, and — during migration — secondary).
type VectorIndex interface {
	// Upsert writes or replaces the vector for id.
	Upsert(ctx context.Context, collection string, id string, vector []float32) error

	// Delete removes the vector for id, if present.
	Delete(ctx context.Context, collection string, id string) error

	// Search returns the k nearest ids by cosine similarity, unclamped in
	// [-1, 1]. The sqlite and postgres implementations do not apply filter.
	Search(ctx context.Context, collection string, vector []float32, k int, filter SearchFilter) ([]ScoredID, error)

	// Dimension returns the configured dimension of collection, or
	// types.ErrNotFound if the collection does not exist.
	Dimension(ctx context.Context, collection string) (int, error)

	// CreateCollection provisions a new named collection with the given
	// dimension (used by the migration controller's PREPARATION state).
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// DropCollection removes a collection entirely (CLEANUP / ROLLING_BACK).
	DropCollection(ctx context.Context, collection string) error

	// Count returns the number of vectors in collection.
	Count(ctx context.Context, collection string) (int, error)
}

// LexicalIndex is the BM25-style inverted index keyed by id.
type LexicalIndex interface {
	// Index writes or replaces the lexical entry for id.
	Index(ctx context.Context, id string, text string) error

	// Remove deletes the lexical entry for id, if present.
	Remove(ctx context.Context, id string) error

	// Search returns the k best lexical matches, with a lexical_score in
	// [0, 1]. The sqlite and postgres implementations do not apply filter.
	Search(ctx context.Context, query string, k int, filter SearchFilter) ([]ScoredID, error)
}
