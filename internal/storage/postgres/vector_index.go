package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// VectorIndex implements storage.VectorIndex using pgvector's cosine-distance
// operator; searches are an exact ORDER BY on distance, with no ANN index.
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

	vec := pgvector.NewVector(vector)
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO vectors (collection, id, embedding, dimension, embedding_vec) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET embedding = excluded.embedding, dimension = excluded.dimension, embedding_vec = excluded.embedding_vec
	`, collection, id, serializeVector(vector), len(vector), vec)
	if err != nil {
		return fmt.Errorf("postgres: vector upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (v *VectorIndex) Delete(ctx context.Context, collection, id string) error {
	if _, err := v.db.ExecContext(ctx, "DELETE FROM vectors WHERE collection = $1 AND id = $2", collection, id); err != nil {
		return fmt.Errorf("postgres: vector delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Search returns the k nearest ids by pgvector's cosine-distance operator
// (<=>), converting distance (0 = identical) into a similarity score
// 1 - distance in [-1, 1].
func (v *VectorIndex) Search(ctx context.Context, collection string, vector []float32, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	vec := pgvector.NewVector(vector)

	rows, err := v.db.QueryContext(ctx, `
		SELECT id, embedding_vec <=> $1 AS distance
		FROM vectors
		WHERE collection = $2 AND embedding_vec IS NOT NULL
		ORDER BY distance
		LIMIT $3`, vec, collection, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search %s: %w", collection, err)
	}
	defer rows.Close()

	var out []storage.ScoredID
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("postgres: vector search scan: %w", err)
		}
		out = append(out, storage.ScoredID{ID: id, Score: 1 - distance})
	}
	return out, rows.Err()
}

func (v *VectorIndex) Dimension(ctx context.Context, collection string) (int, error) {
	var dim int
	err := v.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = $1", collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, types.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: vector dimension %s: %w", collection, err)
	}
	return dim, nil
}

func (v *VectorIndex) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO collections (name, dimension) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET dimension = excluded.dimension
	`, collection, dimension)
	if err != nil {
		return fmt.Errorf("postgres: create collection %s: %w", collection, err)
	}
	return nil
}

func (v *VectorIndex) DropCollection(ctx context.Context, collection string) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: drop collection %s: %w", collection, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE collection = $1", collection); err != nil {
		return fmt.Errorf("postgres: drop collection %s vectors: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = $1", collection); err != nil {
		return fmt.Errorf("postgres: drop collection %s: %w", collection, err)
	}
	return tx.Commit()
}

func (v *VectorIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE collection = $1", collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", collection, err)
	}
	return n, nil
}

// serializeVector packs the vector as a little-endian BYTEA, kept alongside
// embedding_vec as a driver-agnostic fallback representation.
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
