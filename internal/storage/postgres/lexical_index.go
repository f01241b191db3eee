package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cortexmem/cortexmem/internal/storage"
)

// LexicalIndex implements storage.LexicalIndex over the memories table's
// content_tsv column, maintained automatically by the memories_tsv_trigger.
type LexicalIndex struct {
	db *sql.DB
}

func NewLexicalIndex(db *sql.DB) *LexicalIndex {
	return &LexicalIndex{db: db}
}

func (l *LexicalIndex) Index(ctx context.Context, id string, text string) error {
	_, err := l.db.ExecContext(ctx, "UPDATE memories SET content_text = $1 WHERE id = $2", text, id)
	if err != nil {
		return fmt.Errorf("postgres: lexical index %s: %w", id, err)
	}
	return nil
}

func (l *LexicalIndex) Remove(ctx context.Context, id string) error {
	// No-op: content_tsv lives on the memories row and is removed with it.
	return nil
}

func (l *LexicalIndex) Search(ctx context.Context, query string, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2`, query, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: lexical search: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredID
	var maxRank float64
	first := true
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("postgres: lexical search scan: %w", err)
		}
		if first || rank > maxRank {
			maxRank = rank
		}
		first = false
		out = append(out, storage.ScoredID{ID: id, Score: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: lexical search rows: %w", err)
	}

	// ts_rank has no fixed upper bound; normalize to [0, 1] against this
	// result set's best match.
	if maxRank > 0 {
		for i := range out {
			out[i].Score /= maxRank
		}
	}
	return out, nil
}
