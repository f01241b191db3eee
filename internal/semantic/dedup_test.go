package semantic

import (
	"context"
	"testing"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

func TestDedup_SkipsNonFactEntityTypes(t *testing.T) {
	engine := NewEngine(newFakeStore(), &fakeVectors{}, &fakeLexical{}, fakeEmbedder{}, DefaultConfig())
	incoming := &types.Memory{ID: "mem-1", Type: types.TypeReflection}

	id, err := engine.Dedup(context.Background(), incoming, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no dedup match for non fact/entity type, got %q", id)
	}
}

func TestDedup_NoHitBelowThresholdReturnsEmpty(t *testing.T) {
	store := newFakeStore()
	store.byID["mem-existing"] = &types.Memory{ID: "mem-existing", Type: types.TypeFact, Content: types.FactContent{Statement: "x"}}
	vectors := &fakeVectors{hits: map[string][]storage.ScoredID{
		"primary": {{ID: "mem-existing", Score: 0.5}},
	}}
	cfg := DefaultConfig()
	cfg.DedupThreshold = 0.92
	engine := NewEngine(store, vectors, &fakeLexical{}, fakeEmbedder{}, cfg)

	incoming := &types.Memory{ID: "mem-new", Type: types.TypeFact}
	id, err := engine.Dedup(context.Background(), incoming, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no match below dedup threshold, got %q", id)
	}
}

func TestDedup_HitAboveThresholdMergesTagsAndSource(t *testing.T) {
	store := newFakeStore()
	store.byID["mem-existing"] = &types.Memory{
		ID: "mem-existing", Type: types.TypeFact, Content: types.FactContent{Statement: "x"},
		Tags: []string{"a"}, Source: "first", Importance: 0.3,
	}
	vectors := &fakeVectors{hits: map[string][]storage.ScoredID{
		"primary": {{ID: "mem-existing", Score: 0.97}},
	}}
	cfg := DefaultConfig()
	cfg.DedupThreshold = 0.92
	engine := NewEngine(store, vectors, &fakeLexical{}, fakeEmbedder{}, cfg)

	incoming := &types.Memory{
		ID: "mem-new", Type: types.TypeFact, Tags: []string{"a", "b"}, Source: "second", Importance: 0.8,
	}
	id, err := engine.Dedup(context.Background(), incoming, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if id != "mem-existing" {
		t.Fatalf("expected dedup to return the existing id, got %q", id)
	}

	merged, err := store.Get(context.Background(), "mem-existing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !merged.HasTag("a") || !merged.HasTag("b") {
		t.Fatalf("expected merged tags to include both a and b, got %v", merged.Tags)
	}
	if merged.Source != "first,second" {
		t.Fatalf("expected unioned source, got %q", merged.Source)
	}
	if merged.Importance != 0.8 {
		t.Fatalf("expected importance to take the higher incoming value, got %v", merged.Importance)
	}
}

func TestDedup_KeepsHigherExistingImportance(t *testing.T) {
	store := newFakeStore()
	store.byID["mem-existing"] = &types.Memory{
		ID: "mem-existing", Type: types.TypeEntity, Content: types.EntityContent{Name: "acme"}, Importance: 0.9,
	}
	vectors := &fakeVectors{hits: map[string][]storage.ScoredID{
		"primary": {{ID: "mem-existing", Score: 0.99}},
	}}
	cfg := DefaultConfig()
	engine := NewEngine(store, vectors, &fakeLexical{}, fakeEmbedder{}, cfg)

	incoming := &types.Memory{ID: "mem-new", Type: types.TypeEntity, Importance: 0.2}
	if _, err := engine.Dedup(context.Background(), incoming, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Dedup: %v", err)
	}

	merged, err := store.Get(context.Background(), "mem-existing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if merged.Importance != 0.9 {
		t.Fatalf("expected existing higher importance to be kept, got %v", merged.Importance)
	}
}
