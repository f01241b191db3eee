// Package storage defines the Persistence contract (§4.1): durable storage
// of memories plus the vector and lexical indexes, and the dual-collection
// hooks the migration controller drives.
package storage

import "time"

// PaginatedResult is a generic page of results, reused by List and by search
// operations.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// ListOptions filters and paginates List.
type ListOptions struct {
	Types []string // memory type filter; empty means no filter
	Tier  string   // empty means no filter

	Limit  int
	Offset int

	SortBy    string
	SortOrder string
}

var allowedSortFields = map[string]bool{
	"created_at":  true,
	"updated_at":  true,
	"importance":  true,
	"access_count": true,
}

// Normalize applies defaults and validates ListOptions, matching the
// whitelist-sort-field pattern used throughout the storage layer to prevent
// SQL injection via caller-controlled sort fields.
func (o *ListOptions) Normalize() {
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// SearchFilter carries tier set x type set x tag set (any-match) x created_at
// range restrictions for vector_search and lexical_search. The sqlite and
// postgres indexes do not apply it; semantic.Engine.Retrieve applies only
// Types, after fetching each candidate record.
type SearchFilter struct {
	Tiers         []string
	Types         []string
	Tags          []string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// ScoredID is one hit from vector_search or lexical_search.
type ScoredID struct {
	ID    string
	Score float64
}

// Stats is the result of the stats() operation.
type Stats struct {
	Total      int
	ByType     map[string]int
	ByTier     map[string]int
	IndexSizes map[string]int
}

// AccessUpdate is one batched access-side-effect (§4.1): increment
// access_count, bump last_accessed_at, and nudge importance toward 1.
type AccessUpdate struct {
	ID  string
	At  time.Time
}
