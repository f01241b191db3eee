// Package types defines the core data structures for the cortexmem memory
// engine: memories, their typed content, tiers, and the migration record.
package types

import "time"

// MemoryType discriminates the shape of a memory's Content.
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypeEntity       MemoryType = "entity"
	TypeConversation MemoryType = "conversation"
	TypeReflection   MemoryType = "reflection"
	TypeCode         MemoryType = "code"
)

// ValidMemoryTypes lists every type the engine accepts.
var ValidMemoryTypes = []MemoryType{TypeFact, TypeEntity, TypeConversation, TypeReflection, TypeCode}

// IsValidMemoryType reports whether t is one of ValidMemoryTypes.
func IsValidMemoryType(t MemoryType) bool {
	for _, v := range ValidMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Tier is the coarse storage class of a memory, determining retention and
// retrieval priority.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierArchived  Tier = "archived"
)

// tierRank orders tiers for the allowed transition graph: transitions may
// only move one rank at a time, in either direction.
var tierRank = map[Tier]int{
	TierShortTerm: 0,
	TierLongTerm:  1,
	TierArchived:  2,
}

// IsValidTierTransition reports whether moving from `from` to `to` is legal.
// The allowed graph is short_term -> long_term -> archived for demotion, and
// long_term -> short_term, archived -> long_term for access-driven promotion.
// Every other pair (including archived -> short_term in one step) is invalid.
func IsValidTierTransition(from, to Tier) bool {
	if from == to {
		return false
	}
	fr, ok1 := tierRank[from]
	tr, ok2 := tierRank[to]
	if !ok1 || !ok2 {
		return false
	}
	diff := tr - fr
	return diff == 1 || diff == -1
}

// Memory is the atomic record persisted by the engine.
type Memory struct {
	ID    string     `json:"id"`
	Type  MemoryType `json:"type"`
	Content Content  `json:"content"`

	Importance float64 `json:"importance"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int        `json:"access_count"`

	Tier Tier `json:"tier"`

	EmbeddingRef   *string `json:"embedding_ref,omitempty"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`

	Tags   []string `json:"tags,omitempty"`
	Source string   `json:"source,omitempty"`
}

// ClampImportance enforces invariant 5: importance is clamped to [0, 1]
// after every mutation.
func (m *Memory) ClampImportance() {
	if m.Importance < 0 {
		m.Importance = 0
	}
	if m.Importance > 1 {
		m.Importance = 1
	}
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MergeTags unions other into m.Tags, de-duplicating.
func (m *Memory) MergeTags(other []string) {
	seen := make(map[string]bool, len(m.Tags))
	for _, t := range m.Tags {
		seen[t] = true
	}
	for _, t := range other {
		if !seen[t] {
			m.Tags = append(m.Tags, t)
			seen[t] = true
		}
	}
}
