package mcp

// toolSchemas returns the canonical MCP tool definitions advertised by
// "tools/list". Descriptions and input schemas mirror the argument structs
// in internal/domain/args.go.
func toolSchemas() []MCPTool {
	return []MCPTool{
		{
			Name:        "store_memory",
			Description: "Store a new memory of the given type. Near-duplicate facts and entities are merged into the existing record instead of creating a new one.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"type", "content"},
				"properties": map[string]interface{}{
					"type":       map[string]interface{}{"type": "string", "description": "Memory type: fact, entity, conversation, reflection, or code"},
					"content":    map[string]interface{}{"type": "object", "description": "Type-specific content payload"},
					"importance": map[string]interface{}{"type": "number", "description": "Importance in [0,1]; defaults to 0.5"},
					"tags":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Optional tags"},
					"source":     map[string]interface{}{"type": "string", "description": "Where this memory came from"},
				},
			},
		},
		{
			Name:        "retrieve_memory",
			Description: "Hybrid semantic + lexical search across stored memories, re-ranked by fused score, recency, and importance.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query":          map[string]interface{}{"type": "string", "description": "Natural-language search query"},
					"limit":          map[string]interface{}{"type": "integer", "description": "Max results to return (default 5)"},
					"types":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Restrict to these memory types"},
					"min_similarity": map[string]interface{}{"type": "number", "description": "Minimum final score in [0,1], i.e. the fused score re-weighted by recency and importance (default 0.3)"},
				},
			},
		},
		{
			Name:        "list_memories",
			Description: "Paginated listing of memories, optionally filtered by type and tier.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"types":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Restrict to these memory types"},
					"tier":   map[string]interface{}{"type": "string", "description": "Restrict to this tier: short_term, long_term, archived"},
					"limit":  map[string]interface{}{"type": "integer", "description": "Page size"},
					"offset": map[string]interface{}{"type": "integer", "description": "Page offset"},
				},
			},
		},
		{
			Name:        "update_memory",
			Description: "Apply a sparse patch (content, importance, tags, or source) to an existing memory. Content changes trigger re-embedding and re-indexing.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"id", "patch"},
				"properties": map[string]interface{}{
					"id":    map[string]interface{}{"type": "string", "description": "Memory ID to update"},
					"patch": map[string]interface{}{"type": "object", "description": "Sparse set of fields to apply: content, importance, tags, source"},
				},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Permanently remove a memory and its vector/lexical index entries.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"id"},
				"properties": map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Memory ID to delete"},
				},
			},
		},
		{
			Name:        "memory_stats",
			Description: "Aggregate counts of stored memories by type, tier, and index size.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "migration_start",
			Description: "Begin migrating embeddings to a new model, provisioning a secondary vector collection.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"target_model"},
				"properties": map[string]interface{}{
					"target_model": map[string]interface{}{"type": "string", "description": "Name of the embedding model to migrate to"},
				},
			},
		},
		{
			Name:        "migration_status",
			Description: "Report the current migration phase, progress, and quality signal.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "migration_advance",
			Description: "Drive the migration state machine one step forward (preparation -> shadow -> canary -> gradual -> full -> cleanup -> completed).",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "migration_pause",
			Description: "Pause an active migration; advance becomes a no-op until resumed.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "migration_resume",
			Description: "Resume a paused migration.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "migration_rollback",
			Description: "Abort an active migration, drop the secondary collection, and revert to the prior embedding model.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}
