// Package sqlite provides a SQLite-backed implementation of the storage
// contracts, suitable for single-process deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// MemoryStore implements storage.Store using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens a SQLite memory store with WAL self-healing. If the
// initial open fails on a pattern characteristic of stale WAL files left
// behind by a crashed process, it verifies no other process holds them and
// retries once after removing the stale -shm/-wal files.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	store, err := openMemoryStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openMemoryStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serializes writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode lets concurrent readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// Put stores a new memory. Callers must have already written the embedding
// to the vector index (the "index before inline" ordering required of
// storage.Store.Put).
func (s *MemoryStore) Put(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory id is required", types.ErrInvalidInput)
	}
	if m.Content == nil {
		return fmt.Errorf("%w: memory content is required", types.ErrInvalidInput)
	}

	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("sqlite: marshal content: %w", err)
	}

	var tagsJSON []byte
	if len(m.Tags) > 0 {
		tagsJSON, err = json.Marshal(m.Tags)
		if err != nil {
			return fmt.Errorf("sqlite: marshal tags: %w", err)
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
			tier, embedding_ref, embedding_model, tags_json, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
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
			tags_json = excluded.tags_json,
			source = excluded.source
	`,
		m.ID, string(m.Type), string(contentJSON), m.Content.Project(), m.Importance,
		m.CreatedAt, m.UpdatedAt, nullableTime(m.LastAccessedAt), m.AccessCount,
		string(m.Tier), nullableString(derefString(m.EmbeddingRef)), nullableString(m.EmbeddingModel),
		nullableBytes(tagsJSON), m.Source,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", m.ID, err)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, content_json, importance, created_at, updated_at,
		       last_accessed_at, access_count, tier, embedding_ref, embedding_model, tags_json, source
		FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, err)
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

// Delete removes the memory record. Callers MUST sweep lexical/vector index
// entries only after this returns ("record before index"): the FTS5 trigger
// handles content_text, but the caller's vector index entry is independent
// and must be removed by the Semantic layer after this call succeeds.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete %s rows affected: %w", id, err)
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
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, opts.Tier)
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM memories %s", whereSQL)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: list count: %w", err)
	}

	listSQL := fmt.Sprintf(`
		SELECT id, type, content_json, importance, created_at, updated_at,
		       last_accessed_at, access_count, tier, embedding_ref, embedding_model, tags_json, source
		FROM memories %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		whereSQL, opts.SortBy, strings.ToUpper(opts.SortOrder))

	rows, err := s.db.QueryContext(ctx, listSQL, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list scan: %w", err)
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
	_, err = s.db.ExecContext(ctx, "UPDATE memories SET tier = ?, updated_at = ? WHERE id = ?",
		string(newTier), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: move tier %s: %w", id, err)
	}
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (storage.Stats, error) {
	stats := storage.Stats{ByType: map[string]int{}, ByTier: map[string]int{}, IndexSizes: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("sqlite: stats total: %w", err)
	}

	if err := scanCountGroup(ctx, s.db, "SELECT type, COUNT(*) FROM memories GROUP BY type", stats.ByType); err != nil {
		return stats, fmt.Errorf("sqlite: stats by type: %w", err)
	}
	if err := scanCountGroup(ctx, s.db, "SELECT tier, COUNT(*) FROM memories GROUP BY tier", stats.ByTier); err != nil {
		return stats, fmt.Errorf("sqlite: stats by tier: %w", err)
	}

	var vectorCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&vectorCount); err != nil {
		return stats, fmt.Errorf("sqlite: stats vector count: %w", err)
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

// ApplyAccess applies a batch of access-side-effects in a single transaction,
// in slice order.
func (s *MemoryStore) ApplyAccess(ctx context.Context, updates []storage.AccessUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: apply access begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1,
		    last_accessed_at = ?,
		    importance = MIN(1.0, importance + 0.02 * (1.0 - importance))
		WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("sqlite: apply access prepare: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.At, u.ID); err != nil {
			return fmt.Errorf("sqlite: apply access %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *MemoryStore) ListForDecay(ctx context.Context) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, content_json, importance, created_at, updated_at,
		       last_accessed_at, access_count, tier, embedding_ref, embedding_model, tags_json, source
		FROM memories WHERE tier != ?`, string(types.TierArchived))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list for decay: %w", err)
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list for decay scan: %w", err)
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
		"SELECT id, importance FROM memories WHERE tier = ? AND updated_at < ?",
		string(types.TierArchived), cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: expire archived select: %w", err)
	}
	var expired []storage.ExpiredMemory
	for rows.Next() {
		var e storage.ExpiredMemory
		if err := rows.Scan(&e.ID, &e.Importance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: expire archived scan: %w", err)
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: expire archived rows: %w", err)
	}

	for _, e := range expired {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", e.ID); err != nil {
			return nil, fmt.Errorf("sqlite: expire archived delete %s: %w", e.ID, err)
		}
	}
	return expired, nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so that another
// process can open the database afterwards without stale WAL state.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

// DB exposes the underlying connection for the vector/lexical index
// implementations in this package, which share the same SQLite file.
func (s *MemoryStore) DB() *sql.DB { return s.db }

func scanMemory(row *sql.Row) (*types.Memory, error) {
	var (
		id, typ, contentJSON, tier, source string
		importance                         float64
		createdAt, updatedAt               time.Time
		lastAccessedAt                     sql.NullTime
		accessCount                        int
		embeddingRef, embeddingModel       sql.NullString
		tagsJSON                           sql.NullString
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
			id, typ, contentJSON, tier, source string
			importance                         float64
			createdAt, updatedAt               time.Time
			lastAccessedAt                     sql.NullTime
			accessCount                        int
			embeddingRef, embeddingModel       sql.NullString
			tagsJSON                           sql.NullString
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

func assembleMemory(id, typ, contentJSON string, importance float64, createdAt, updatedAt time.Time,
	lastAccessedAt sql.NullTime, accessCount int, tier string, embeddingRef, embeddingModel, tagsJSON sql.NullString,
	source string) (*types.Memory, error) {

	content, err := types.DecodeContent(types.MemoryType(typ), json.RawMessage(contentJSON))
	if err != nil {
		return nil, fmt.Errorf("decode content for %s: %w", id, err)
	}

	var tags []string
	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &tags); err != nil {
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

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles bare
// paths and file: URIs; returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
