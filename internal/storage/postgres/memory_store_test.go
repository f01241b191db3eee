package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/internal/storage/postgres"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// postgresTestDSN returns the DSN for the test database. Tests are skipped
// when POSTGRES_TEST_DSN is not set, since these exercise a real server.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.MemoryStore {
	t.Helper()
	store, err := postgres.NewMemoryStore(postgresTestDSN(t))
	require.NoError(t, err, "NewMemoryStore should succeed")
	t.Cleanup(func() { store.Close() })
	return store
}

func truncateAll(t *testing.T, store *postgres.MemoryStore) {
	t.Helper()
	require.NoError(t, store.TruncateForTest(context.Background()))
}

func newTestMemory(id string) *types.Memory {
	return &types.Memory{
		ID:         id,
		Type:       types.TypeFact,
		Content:    types.FactContent{Statement: "test memory for " + id},
		Importance: 0.5,
		Tier:       types.TierShortTerm,
		Source:     "test",
	}
}

func TestMemoryStore_PutRejectsMissingIDOrContent(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()

	err := store.Put(ctx, &types.Memory{Content: types.FactContent{Statement: "x"}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	err = store.Put(ctx, &types.Memory{ID: "mem-1"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()

	m := newTestMemory("mem-1")
	m.Tags = []string{"a", "b"}
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Tier, got.Tier)
	fc, ok := got.Content.(types.FactContent)
	require.True(t, ok)
	assert.Equal(t, "test memory for mem-1", fc.Statement)
	assert.Len(t, got.Tags, 2)
}

func TestMemoryStore_GetMissingReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryStore_Update(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-1")))

	updated, err := store.Update(ctx, "mem-1", func(m *types.Memory) error {
		m.Importance = 0.1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, updated.Importance)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-1")))

	require.NoError(t, store.Delete(ctx, "mem-1"))
	err := store.Delete(ctx, "mem-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryStore_MoveTierRejectsInvalidTransition(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-1")))

	err := store.MoveTier(ctx, "mem-1", types.TierArchived)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestMemoryStore_ListFiltersByTier(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-1")))
	longTerm := newTestMemory("mem-2")
	longTerm.Tier = types.TierLongTerm
	require.NoError(t, store.Put(ctx, longTerm))

	res, err := store.List(ctx, storage.ListOptions{Tier: string(types.TierShortTerm), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestMemoryStore_Stats(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-1")))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByType[string(types.TypeFact)])
}

func TestMemoryStore_ApplyAccessIncrementsAndBumpsImportance(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-1")))

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.ApplyAccess(ctx, []storage.AccessUpdate{{ID: "mem-1", At: now}}))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.Greater(t, got.Importance, 0.5)
}

func TestMemoryStore_ListForDecayExcludesArchived(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestMemory("mem-active")))
	archived := newTestMemory("mem-archived")
	archived.Tier = types.TierArchived
	require.NoError(t, store.Put(ctx, archived))

	items, err := store.ListForDecay(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "mem-active", items[0].ID)
}

func TestVectorIndex_UpsertAndDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	idx := postgres.NewVectorIndex(store.DB())

	require.NoError(t, idx.CreateCollection(ctx, "primary", 3))
	require.NoError(t, idx.Upsert(ctx, "primary", "mem-1", []float32{1, 0, 0}))

	err := idx.Upsert(ctx, "primary", "mem-2", []float32{1, 0})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestVectorIndex_DimensionMissingReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	idx := postgres.NewVectorIndex(store.DB())

	_, err := idx.Dimension(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLexicalIndex_SearchMatches(t *testing.T) {
	store := newTestStore(t)
	truncateAll(t, store)
	ctx := context.Background()
	a := newTestMemory("mem-a")
	a.Content = types.FactContent{Statement: "the quick brown fox jumps"}
	require.NoError(t, store.Put(ctx, a))
	b := newTestMemory("mem-b")
	b.Content = types.FactContent{Statement: "totally unrelated content"}
	require.NoError(t, store.Put(ctx, b))

	lex := postgres.NewLexicalIndex(store.DB())
	results, err := lex.Search(ctx, "fox", 10, storage.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mem-a", results[0].ID)
}
