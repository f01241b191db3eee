package domain

import (
	"encoding/json"
	"fmt"

	"github.com/cortexmem/cortexmem/pkg/types"
)

// StoreMemoryArgs is the store_memory tool's argument shape.
type StoreMemoryArgs struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	Importance *float64        `json:"importance,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Source     string          `json:"source,omitempty"`
}

func (a StoreMemoryArgs) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("%w: type is required", types.ErrInvalidInput)
	}
	if !types.IsValidMemoryType(types.MemoryType(a.Type)) {
		return fmt.Errorf("%w: unknown memory type %q", types.ErrInvalidInput, a.Type)
	}
	if len(a.Content) == 0 {
		return fmt.Errorf("%w: content is required", types.ErrInvalidInput)
	}
	if a.Importance != nil && (*a.Importance < 0 || *a.Importance > 1) {
		return fmt.Errorf("%w: importance must be in [0,1]", types.ErrInvalidInput)
	}
	return nil
}

// RetrieveMemoryArgs is the retrieve_memory tool's argument shape.
type RetrieveMemoryArgs struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit,omitempty"`
	Types         []string `json:"types,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

func (a RetrieveMemoryArgs) Validate() error {
	if a.Query == "" {
		return fmt.Errorf("%w: query is required", types.ErrInvalidInput)
	}
	if a.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative", types.ErrInvalidInput)
	}
	for _, t := range a.Types {
		if !types.IsValidMemoryType(types.MemoryType(t)) {
			return fmt.Errorf("%w: unknown memory type %q", types.ErrInvalidInput, t)
		}
	}
	if a.MinSimilarity != nil && (*a.MinSimilarity < 0 || *a.MinSimilarity > 1) {
		return fmt.Errorf("%w: min_similarity must be in [0,1]", types.ErrInvalidInput)
	}
	return nil
}

func (a RetrieveMemoryArgs) limitOrDefault() int {
	if a.Limit == 0 {
		return 5
	}
	return a.Limit
}

func (a RetrieveMemoryArgs) minSimilarityOrDefault() float64 {
	if a.MinSimilarity == nil {
		return 0.3
	}
	return *a.MinSimilarity
}

// ListMemoriesArgs is the list_memories tool's argument shape.
type ListMemoriesArgs struct {
	Types  []string `json:"types,omitempty"`
	Tier   string   `json:"tier,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

func (a ListMemoriesArgs) Validate() error {
	for _, t := range a.Types {
		if !types.IsValidMemoryType(types.MemoryType(t)) {
			return fmt.Errorf("%w: unknown memory type %q", types.ErrInvalidInput, t)
		}
	}
	if a.Tier != "" && a.Tier != string(types.TierShortTerm) && a.Tier != string(types.TierLongTerm) && a.Tier != string(types.TierArchived) {
		return fmt.Errorf("%w: unknown tier %q", types.ErrInvalidInput, a.Tier)
	}
	if a.Limit < 0 || a.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must be non-negative", types.ErrInvalidInput)
	}
	return nil
}

// UpdateMemoryArgs is the update_memory tool's argument shape. Patch is a
// sparse set of fields to apply; unknown keys are rejected by Validate.
type UpdateMemoryArgs struct {
	ID    string                 `json:"id"`
	Patch map[string]interface{} `json:"patch"`
}

var allowedPatchFields = map[string]bool{
	"content":    true,
	"importance": true,
	"tags":       true,
	"source":     true,
}

func (a UpdateMemoryArgs) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", types.ErrInvalidInput)
	}
	if len(a.Patch) == 0 {
		return fmt.Errorf("%w: patch must not be empty", types.ErrInvalidInput)
	}
	for k := range a.Patch {
		if !allowedPatchFields[k] {
			return fmt.Errorf("%w: unknown patch field %q", types.ErrInvalidInput, k)
		}
	}
	return nil
}

// DeleteMemoryArgs is the delete_memory tool's argument shape.
type DeleteMemoryArgs struct {
	ID string `json:"id"`
}

func (a DeleteMemoryArgs) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", types.ErrInvalidInput)
	}
	return nil
}

// MigrationStartArgs is the migration_start tool's argument shape.
type MigrationStartArgs struct {
	TargetModel string `json:"target_model"`
}

func (a MigrationStartArgs) Validate() error {
	if a.TargetModel == "" {
		return fmt.Errorf("%w: target_model is required", types.ErrInvalidInput)
	}
	return nil
}
