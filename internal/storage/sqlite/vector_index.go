package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// VectorIndex implements storage.VectorIndex with a brute-force cosine scan
// over BLOB-encoded float32 vectors. Adequate at the scale this engine
// targets; the postgres backend orders by pgvector's cosine-distance
// operator instead.
type VectorIndex struct {
	db *sql.DB
}

func NewVectorIndex(db *sql.DB) *VectorIndex {
	return &VectorIndex{db: db}
}

func (v *VectorIndex) Upsert(ctx context.Context, collection, id string, vector []float32) error {
	dim, err := v.Dimension(ctx, collection)
	if err == nil && dim != len(vector) {
		return fmt.Errorf("%w: collection %s expects dimension %d, got %d", types.ErrDimensionMismatch, collection, dim, len(vector))
	}

	blob := serializeVector(vector)
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO vectors (collection, id, embedding, dimension) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET embedding = excluded.embedding, dimension = excluded.dimension
	`, collection, id, blob, len(vector))
	if err != nil {
		return fmt.Errorf("sqlite: vector upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (v *VectorIndex) Delete(ctx context.Context, collection, id string) error {
	if _, err := v.db.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ? AND id = ?", collection, id); err != nil {
		return fmt.Errorf("sqlite: vector delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, collection string, vector []float32, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	rows, err := v.db.QueryContext(ctx, "SELECT id, embedding FROM vectors WHERE collection = ?", collection)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search %s: %w", collection, err)
	}
	defer rows.Close()

	var scored []storage.ScoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: vector search scan: %w", err)
		}
		candidate := deserializeVector(blob)
		scored = append(scored, storage.ScoredID{ID: id, Score: cosineSimilarity(vector, candidate)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: vector search rows: %w", err)
	}

	sortScoredDesc(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (v *VectorIndex) Dimension(ctx context.Context, collection string) (int, error) {
	var dim int
	err := v.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, types.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: vector dimension %s: %w", collection, err)
	}
	return dim, nil
}

func (v *VectorIndex) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO collections (name, dimension) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET dimension = excluded.dimension
	`, collection, dimension)
	if err != nil {
		return fmt.Errorf("sqlite: create collection %s: %w", collection, err)
	}
	return nil
}

func (v *VectorIndex) DropCollection(ctx context.Context, collection string) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: drop collection %s: %w", collection, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("sqlite: drop collection %s vectors: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collection); err != nil {
		return fmt.Errorf("sqlite: drop collection %s: %w", collection, err)
	}
	return tx.Commit()
}

func (v *VectorIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE collection = ?", collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", collection, err)
	}
	return n, nil
}

func sortScoredDesc(s []storage.ScoredID) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Score < s[j].Score; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeVector/deserializeVector pack a float32 vector as a little-endian
// binary BLOB, the same IEEE 754 bit-reinterpretation scheme used for the
// embedding storage this package inherited.
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
