package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cortexmem/cortexmem/internal/storage"
)

// LexicalIndex implements storage.LexicalIndex over the memories_fts virtual
// table. The memories table's own triggers keep memories_fts in sync on
// insert/update/delete, so Index/Remove here only maintain content_text —
// which is itself the table that drives those triggers.
type LexicalIndex struct {
	db *sql.DB
}

func NewLexicalIndex(db *sql.DB) *LexicalIndex {
	return &LexicalIndex{db: db}
}

// Index updates content_text for id, which drives the memories_fts triggers.
// Most callers never need this directly — MemoryStore.Put already sets
// content_text from Content.Project() — but it is exposed for re-indexing.
func (l *LexicalIndex) Index(ctx context.Context, id string, text string) error {
	_, err := l.db.ExecContext(ctx, "UPDATE memories SET content_text = ? WHERE id = ?", text, id)
	if err != nil {
		return fmt.Errorf("sqlite: lexical index %s: %w", id, err)
	}
	return nil
}

func (l *LexicalIndex) Remove(ctx context.Context, id string) error {
	// No-op: deleting the memories row (MemoryStore.Delete) fires the
	// memories_fts_ad trigger, which removes the FTS entry.
	return nil
}

func (l *LexicalIndex) Search(ctx context.Context, query string, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery, k)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lexical search: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredID
	var minRank, maxRank float64
	first := true
	var raw []struct {
		id   string
		rank float64
	}
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: lexical search scan: %w", err)
		}
		raw = append(raw, struct {
			id   string
			rank float64
		}{id, rank})
		if first || rank < minRank {
			minRank = rank
		}
		if first || rank > maxRank {
			maxRank = rank
		}
		first = false
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: lexical search rows: %w", err)
	}

	// bm25() returns more-negative values for better matches; normalize to
	// [0, 1] with 1 being the best match in this result set.
	spread := maxRank - minRank
	for _, r := range raw {
		score := 1.0
		if spread > 0 {
			score = 1.0 - (r.rank-minRank)/spread
		}
		out = append(out, storage.ScoredID{ID: r.id, Score: score})
	}
	return out, nil
}

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression: strip FTS5-special characters, drop stop words, and use
// prefix matching (term*) for recall.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, " ", `'`, " ", `(`, " ", `)`, " ",
		`*`, " ", `-`, " ", `^`, " ", `?`, " ", `:`, " ",
	)
	cleaned := replacer.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(strings.TrimSpace(cleaned))
	}
	return strings.Join(terms, " OR ")
}

var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "above": true, "below": true,
	"between": true, "out": true, "off": true, "over": true, "under": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true,
}
