package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// MemoryStore implements storage.Store using PostgreSQL.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens a PostgreSQL memory store and bootstraps the schema.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) Put(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory id is required", types.ErrInvalidInput)
	}
	if m.Content == nil {
		return fmt.Errorf("%w: memory content is required", types.ErrInvalidInput)
	}

	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("postgres: marshal content: %w", err)
	}
	var tagsJSON []byte
	if len(m.Tags) > 0 {
		tagsJSON, err = json.Marshal(m.Tags)
		if err != nil {
			return fmt.Errorf("postgres: marshal tags: %w", err)
		}
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, type, content_json, content_text, importance,
			created_at, updated_at, last_accessed_at, access_count,
			tier, embedding_ref, embedding_model, tags, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			content_json = excluded.content_json,
			content_text = excluded.content_text,
			importance = excluded.importance,
			updated_at = excluded.updated_at,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			tier = excluded.tier,
			embedding_ref = excluded.embedding_ref,
			embedding_model = excluded.embedding_model,
			tags = excluded.tags,
			source = excluded.source
	`,
		m.ID, string(m.Type), contentJSON, m.Content.Project(), m.Importance,
		m.CreatedAt, m.UpdatedAt, nullableTime(m.LastAccessedAt), m.AccessCount,
		string(m.Tier), nullableRef(m.EmbeddingRef), nullableString(m.EmbeddingModel),
		nullableBytes(tagsJSON), m.Source,
	)
	if err != nil {
		return fmt.Errorf("postgres: put %s: %w", m.ID, err)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, content_json, importance, created_at, updated_at,
		       last_accessed_at, access_count, tier, embedding_ref, embedding_model, tags, source
		FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return m, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch func(*types.Memory) error) (*types.Memory, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := patch(m); err != nil {
		return nil, err
	}
	if err := s.Put(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete %s rows affected: %w", id, err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	var where []string
	var args []interface{}
	arg := 1
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = fmt.Sprintf("$%d", arg)
			args = append(args, t)
			arg++
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Tier != "" {
		where = append(where, fmt.Sprintf("tier = $%d", arg))
		args = append(args, opts.Tier)
		arg++
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM memories %s", whereSQL), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: list count: %w", err)
	}

	listSQL := fmt.Sprintf(`
		SELECT id, type, content_json, importance, created_at, updated_at,
		       last_accessed_at, access_count, tier, embedding_ref, embedding_model, tags, source
		FROM memories %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		whereSQL, opts.SortBy, strings.ToUpper(opts.SortOrder), arg, arg+1)

	rows, err := s.db.QueryContext(ctx, listSQL, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scan: %w", err)
	}

	return &storage.PaginatedResult[types.Memory]{
		Items:    items,
		Total:    total,
		Page:     opts.Offset/opts.Limit + 1,
		PageSize: opts.Limit,
		HasMore:  opts.Offset+len(items) < total,
	}, nil
}

func (s *MemoryStore) MoveTier(ctx context.Context, id string, newTier types.Tier) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !types.IsValidTierTransition(m.Tier, newTier) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, m.Tier, newTier)
	}
	_, err = s.db.ExecContext(ctx, "UPDATE memories SET tier = $1, updated_at = $2 WHERE id = $3",
		string(newTier), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: move tier %s: %w", id, err)
	}
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (storage.Stats, error) {
	stats := storage.Stats{ByType: map[string]int{}, ByTier: map[string]int{}, IndexSizes: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("postgres: stats total: %w", err)
	}
	if err := scanCountGroup(ctx, s.db, "SELECT type, COUNT(*) FROM memories GROUP BY type", stats.ByType); err != nil {
		return stats, fmt.Errorf("postgres: stats by type: %w", err)
	}
	if err := scanCountGroup(ctx, s.db, "SELECT tier, COUNT(*) FROM memories GROUP BY tier", stats.ByTier); err != nil {
		return stats, fmt.Errorf("postgres: stats by tier: %w", err)
	}
	var vectorCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&vectorCount); err != nil {
		return stats, fmt.Errorf("postgres: stats vector count: %w", err)
	}
	stats.IndexSizes["vector"] = vectorCount
	stats.IndexSizes["lexical"] = stats.Total
	return stats, nil
}

func scanCountGroup(ctx context.Context, db *sql.DB, query string, into map[string]int) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func (s *MemoryStore) ApplyAccess(ctx context.Context, updates []storage.AccessUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: apply access begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1,
		    last_accessed_at = $1,
		    importance = LEAST(1.0, importance + 0.02 * (1.0 - importance))
		WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("postgres: apply access prepare: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.At, u.ID); err != nil {
			return fmt.Errorf("postgres: apply access %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *MemoryStore) ListForDecay(ctx context.Context) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, content_json, importance, created_at, updated_at,
		       last_accessed_at, access_count, tier, embedding_ref, embedding_model, tags, source
		FROM memories WHERE tier != $1`, string(types.TierArchived))
	if err != nil {
		return nil, fmt.Errorf("postgres: list for decay: %w", err)
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list for decay scan: %w", err)
	}
	out := make([]*types.Memory, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out, nil
}

func (s *MemoryStore) ExpireArchived(ctx context.Context, olderThanDays int) ([]storage.ExpiredMemory, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, importance FROM memories WHERE tier = $1 AND updated_at < $2",
		string(types.TierArchived), cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire archived select: %w", err)
	}
	var expired []storage.ExpiredMemory
	for rows.Next() {
		var e storage.ExpiredMemory
		if err := rows.Scan(&e.ID, &e.Importance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: expire archived scan: %w", err)
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: expire archived rows: %w", err)
	}

	for _, e := range expired {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", e.ID); err != nil {
			return nil, fmt.Errorf("postgres: expire archived delete %s: %w", e.ID, err)
		}
	}
	return expired, nil
}

func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for the vector/lexical index
// implementations in this package.
func (s *MemoryStore) DB() *sql.DB { return s.db }

func scanMemory(row *sql.Row) (*types.Memory, error) {
	var (
		id, typ, tier, source        string
		contentJSON                  []byte
		importance                   float64
		createdAt, updatedAt         time.Time
		lastAccessedAt               sql.NullTime
		accessCount                  int
		embeddingRef, embeddingModel sql.NullString
		tagsJSON                     []byte
	)
	if err := row.Scan(&id, &typ, &contentJSON, &importance, &createdAt, &updatedAt,
		&lastAccessedAt, &accessCount, &tier, &embeddingRef, &embeddingModel, &tagsJSON, &source); err != nil {
		return nil, err
	}
	return assembleMemory(id, typ, contentJSON, importance, createdAt, updatedAt,
		lastAccessedAt, accessCount, tier, embeddingRef, embeddingModel, tagsJSON, source)
}

func scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	var out []types.Memory
	for rows.Next() {
		var (
			id, typ, tier, source        string
			contentJSON                  []byte
			importance                   float64
			createdAt, updatedAt         time.Time
			lastAccessedAt               sql.NullTime
			accessCount                  int
			embeddingRef, embeddingModel sql.NullString
			tagsJSON                     []byte
		)
		if err := rows.Scan(&id, &typ, &contentJSON, &importance, &createdAt, &updatedAt,
			&lastAccessedAt, &accessCount, &tier, &embeddingRef, &embeddingModel, &tagsJSON, &source); err != nil {
			return nil, err
		}
		m, err := assembleMemory(id, typ, contentJSON, importance, createdAt, updatedAt,
			lastAccessedAt, accessCount, tier, embeddingRef, embeddingModel, tagsJSON, source)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func assembleMemory(id, typ string, contentJSON []byte, importance float64, createdAt, updatedAt time.Time,
	lastAccessedAt sql.NullTime, accessCount int, tier string, embeddingRef, embeddingModel sql.NullString, tagsJSON []byte,
	source string) (*types.Memory, error) {

	content, err := types.DecodeContent(types.MemoryType(typ), json.RawMessage(contentJSON))
	if err != nil {
		return nil, fmt.Errorf("decode content for %s: %w", id, err)
	}

	var tags []string
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", id, err)
		}
	}

	m := &types.Memory{
		ID:             id,
		Type:           types.MemoryType(typ),
		Content:        content,
		Importance:     importance,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		AccessCount:    accessCount,
		Tier:           types.Tier(tier),
		Tags:           tags,
		Source:         source,
		EmbeddingModel: embeddingModel.String,
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	if embeddingRef.Valid {
		m.EmbeddingRef = &embeddingRef.String
	}
	return m, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableRef(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}
