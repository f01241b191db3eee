package semantic

import (
	"context"
	"testing"
	"time"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

type fakeStore struct {
	byID map[string]*types.Memory
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]*types.Memory{}} }

func (s *fakeStore) Put(ctx context.Context, m *types.Memory) error { s.byID[m.ID] = m; return nil }
func (s *fakeStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return m, nil
}
func (s *fakeStore) Update(ctx context.Context, id string, patch func(*types.Memory) error) (*types.Memory, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if err := patch(m); err != nil {
		return nil, err
	}
	return m, nil
}
func (s *fakeStore) Delete(ctx context.Context, id string) error { delete(s.byID, id); return nil }
func (s *fakeStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	return nil, nil
}
func (s *fakeStore) MoveTier(ctx context.Context, id string, newTier types.Tier) error { return nil }
func (s *fakeStore) Stats(ctx context.Context) (storage.Stats, error)                  { return storage.Stats{}, nil }
func (s *fakeStore) ApplyAccess(ctx context.Context, updates []storage.AccessUpdate) error {
	return nil
}
func (s *fakeStore) ListForDecay(ctx context.Context) ([]*types.Memory, error) { return nil, nil }
func (s *fakeStore) ExpireArchived(ctx context.Context, olderThanDays int) ([]storage.ExpiredMemory, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeVectors struct {
	hits map[string][]storage.ScoredID
}

func (v *fakeVectors) Upsert(ctx context.Context, collection, id string, vector []float32) error {
	return nil
}
func (v *fakeVectors) Delete(ctx context.Context, collection, id string) error { return nil }
func (v *fakeVectors) Search(ctx context.Context, collection string, vector []float32, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	hits := v.hits[collection]
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
func (v *fakeVectors) Dimension(ctx context.Context, collection string) (int, error) { return 4, nil }
func (v *fakeVectors) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}
func (v *fakeVectors) DropCollection(ctx context.Context, collection string) error { return nil }
func (v *fakeVectors) Count(ctx context.Context, collection string) (int, error)   { return 0, nil }

type fakeLexical struct {
	hits []storage.ScoredID
}

func (l *fakeLexical) Index(ctx context.Context, id, text string) error { return nil }
func (l *fakeLexical) Remove(ctx context.Context, id string) error      { return nil }
func (l *fakeLexical) Search(ctx context.Context, query string, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	hits := l.hits
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fakeEmbedder) Dimension(model string) int { return 4 }

func TestNormalize_ScalesToUnitRange(t *testing.T) {
	hits := []storage.ScoredID{{ID: "a", Score: 2}, {ID: "b", Score: 4}, {ID: "c", Score: 6}}
	normalize(hits)
	if hits[0].Score != 0 || hits[2].Score != 1 {
		t.Fatalf("expected endpoints 0 and 1, got %+v", hits)
	}
	if hits[1].Score != 0.5 {
		t.Fatalf("expected midpoint 0.5, got %v", hits[1].Score)
	}
}

func TestNormalize_FlatScoresAllBecomeOne(t *testing.T) {
	hits := []storage.ScoredID{{ID: "a", Score: 3}, {ID: "b", Score: 3}}
	normalize(hits)
	for _, h := range hits {
		if h.Score != 1 {
			t.Fatalf("expected flat scores to normalize to 1, got %+v", hits)
		}
	}
}

func TestNormalize_EmptyIsNoop(t *testing.T) {
	var hits []storage.ScoredID
	normalize(hits) // must not panic
	if len(hits) != 0 {
		t.Fatalf("expected still empty, got %v", hits)
	}
}

func TestFuseRRF_RanksSourcesByReciprocalRank(t *testing.T) {
	vec := []storage.ScoredID{{ID: "a"}, {ID: "b"}}
	lex := []storage.ScoredID{{ID: "b"}, {ID: "a"}}
	scores := fuseRRF(vec, lex)

	want := 1.0/(rrfK+1) + 1.0/(rrfK+2)
	if scores["a"] != want || scores["b"] != want {
		t.Fatalf("expected a and b to have identical fused scores (appear at rank 1 and 2 in each source), got %+v", scores)
	}
}

func TestFuseRRF_OnlyInOneSourceScoresLower(t *testing.T) {
	vec := []storage.ScoredID{{ID: "a"}, {ID: "b"}}
	lex := []storage.ScoredID{{ID: "a"}}
	scores := fuseRRF(vec, lex)

	if scores["a"] <= scores["b"] {
		t.Fatalf("expected id present in both sources to outrank id present in one, got %+v", scores)
	}
}

func TestEngine_RetrieveFusesAndAppliesThreshold(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.byID["mem-a"] = &types.Memory{ID: "mem-a", Type: types.TypeFact, Content: types.FactContent{Statement: "x"}, CreatedAt: now, Importance: 0.5}
	store.byID["mem-b"] = &types.Memory{ID: "mem-b", Type: types.TypeFact, Content: types.FactContent{Statement: "y"}, CreatedAt: now, Importance: 0.5}

	vectors := &fakeVectors{hits: map[string][]storage.ScoredID{
		"primary": {{ID: "mem-a", Score: 0.9}, {ID: "mem-b", Score: 0.1}},
	}}
	lexical := &fakeLexical{hits: []storage.ScoredID{{ID: "mem-a", Score: 0.9}}}

	cfg := DefaultConfig()
	cfg.SemanticThreshold = 0 // let both candidates through so fusion ranks them
	engine := NewEngine(store, vectors, lexical, fakeEmbedder{}, cfg)

	results, err := engine.Retrieve(context.Background(), "query", "model", 10, storage.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Memory.ID != "mem-a" {
		t.Fatalf("expected mem-a (present in both sources) to rank first, got %s", results[0].Memory.ID)
	}

	// Retrieve applies the access side-effect to every returned id.
	got, err := store.Get(context.Background(), "mem-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = got
}

func TestEngine_RetrieveRespectsTopK(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	for _, id := range []string{"mem-a", "mem-b", "mem-c"} {
		store.byID[id] = &types.Memory{ID: id, Type: types.TypeFact, Content: types.FactContent{Statement: "x"}, CreatedAt: now, Importance: 0.5}
	}
	vectors := &fakeVectors{hits: map[string][]storage.ScoredID{
		"primary": {{ID: "mem-a", Score: 0.9}, {ID: "mem-b", Score: 0.8}, {ID: "mem-c", Score: 0.7}},
	}}
	lexical := &fakeLexical{}

	cfg := DefaultConfig()
	cfg.SemanticThreshold = 0
	engine := NewEngine(store, vectors, lexical, fakeEmbedder{}, cfg)

	results, err := engine.Retrieve(context.Background(), "query", "model", 2, storage.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected exactly k=2 results, got %d", len(results))
	}
}

func TestEngine_RetrieveFailsWhenBothSourcesFail(t *testing.T) {
	store := newFakeStore()
	vectors := &failingVectors{}
	lexical := &failingLexical{}
	engine := NewEngine(store, vectors, lexical, fakeEmbedder{}, DefaultConfig())

	_, err := engine.Retrieve(context.Background(), "query", "model", 10, storage.SearchFilter{})
	if err == nil {
		t.Fatalf("expected error when both vector and lexical search fail")
	}
}

type failingVectors struct{ fakeVectors }

func (failingVectors) Search(ctx context.Context, collection string, vector []float32, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	return nil, errTest
}

type failingLexical struct{ fakeLexical }

func (failingLexical) Search(ctx context.Context, query string, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	return nil, errTest
}

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestEngine_WithCollectionAndWithConfigDoNotMutateOriginal(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(newFakeStore(), &fakeVectors{}, &fakeLexical{}, fakeEmbedder{}, cfg)

	withCollection := engine.WithCollection("secondary")
	if engine.cfg.CollectionName != "primary" {
		t.Fatalf("expected original engine's collection untouched, got %q", engine.cfg.CollectionName)
	}
	if withCollection.cfg.CollectionName != "secondary" {
		t.Fatalf("expected copy to use secondary, got %q", withCollection.cfg.CollectionName)
	}

	newCfg := cfg
	newCfg.SemanticThreshold = 0.75
	withConfig := engine.WithConfig(newCfg)
	if engine.cfg.SemanticThreshold == 0.75 {
		t.Fatalf("expected original engine's threshold untouched")
	}
	if withConfig.cfg.SemanticThreshold != 0.75 {
		t.Fatalf("expected copy to use the new threshold")
	}
}
