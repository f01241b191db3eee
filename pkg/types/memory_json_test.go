package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cortexmem/cortexmem/pkg/types"
)

func TestMemory_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ref := "vec-1"
	original := types.Memory{
		ID:             "mem-1",
		Type:           types.TypeFact,
		Content:        types.FactContent{Statement: "the sky is blue"},
		Importance:     0.7,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: &now,
		AccessCount:    3,
		Tier:           types.TierLongTerm,
		EmbeddingRef:   &ref,
		EmbeddingModel: "nomic-embed-text",
		Tags:           []string{"a", "b"},
		Source:         "test",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded types.Memory
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.ID != original.ID || decoded.Tier != original.Tier || decoded.AccessCount != original.AccessCount {
		t.Fatalf("scalar fields mismatch: got %+v", decoded)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v want %v", decoded.CreatedAt, original.CreatedAt)
	}
	if decoded.LastAccessedAt == nil || !decoded.LastAccessedAt.Equal(*original.LastAccessedAt) {
		t.Errorf("LastAccessedAt mismatch: got %v", decoded.LastAccessedAt)
	}
	fc, ok := decoded.Content.(types.FactContent)
	if !ok {
		t.Fatalf("expected decoded content to be FactContent, got %T", decoded.Content)
	}
	if fc.Statement != "the sky is blue" {
		t.Errorf("content mismatch: got %q", fc.Statement)
	}
}

func TestMemory_MarshalJSONOmitsNilContent(t *testing.T) {
	m := types.Memory{ID: "mem-2", Type: types.TypeFact}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if content, ok := raw["content"]; ok && string(content) != "null" {
		t.Errorf("expected content to be absent or null, got %s", content)
	}
}
