// Package postgres provides the Postgres-backed paper store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/paper-harvester/internal/id/uuid"
	"github.com/JakeFAU/paper-harvester/internal/paper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "papers"

// Config controls the Postgres connection pool used for paper rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PaperStore implements paper.Store on a single Postgres table.
type PaperStore struct {
	pool  Pool
	table string
	ids   paper.IDGenerator
	clock paper.Clock
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config, ids paper.IDGenerator, clock paper.Clock) (*PaperStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, ids, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, table string, ids paper.IDGenerator, clock paper.Clock) (*PaperStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &PaperStore{pool: pool, table: table, ids: ids, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *PaperStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *PaperStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the papers table and its indexes when missing.
func (s *PaperStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           uuid PRIMARY KEY,
	title        text NOT NULL DEFAULT '',
	subject_code text NOT NULL DEFAULT '',
	subject_name text NOT NULL DEFAULT '',
	year         text NOT NULL DEFAULT '',
	semester     text NOT NULL DEFAULT '',
	branch       text NOT NULL DEFAULT '',
	exam_type    text NOT NULL DEFAULT '',
	source_url   text NOT NULL UNIQUE,
	storage_url  text NOT NULL DEFAULT '',
	source       text NOT NULL DEFAULT '',
	created_at   timestamptz NOT NULL,
	updated_at   timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_fingerprint_idx ON %[1]s (subject_code, year, semester, exam_type);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ExistsByURL reports whether a row with the exact source URL exists.
func (s *PaperStore) ExistsByURL(ctx context.Context, sourceURL string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE source_url = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, sourceURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup by url: %w", err)
	}
	return exists, nil
}

// ExistsByFingerprint reports whether any row matches fp. An empty semester
// or exam type, in fp or in the row, matches anything.
func (s *PaperStore) ExistsByFingerprint(ctx context.Context, fp paper.Fingerprint) (bool, error) {
	if !fp.Usable() {
		return false, nil
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s
WHERE subject_code = $1 AND year = $2
  AND ($3 = '' OR semester = '' OR semester = $3)
  AND ($4 = '' OR exam_type = '' OR exam_type = $4))`, s.table)
	var exists bool
	err := s.pool.QueryRow(ctx, query, fp.SubjectCode, fp.Year, fp.Semester, fp.ExamType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup by fingerprint: %w", err)
	}
	return exists, nil
}

// Add inserts rec and returns its id. A row with the same source URL is
// touched instead and its existing id returned.
func (s *PaperStore) Add(ctx context.Context, rec paper.Record) (string, error) {
	if rec.SourceURL == "" {
		return "", errors.New("source url is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	now := s.now()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	subject_code,
	subject_name,
	year,
	semester,
	branch,
	exam_type,
	source_url,
	storage_url,
	source,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (source_url) DO UPDATE SET updated_at = EXCLUDED.updated_at
RETURNING id::text`, s.table)

	args := []any{
		id,
		rec.Title,
		rec.SubjectCode,
		rec.SubjectName,
		rec.Year,
		rec.Semester,
		rec.Branch,
		rec.ExamType,
		rec.SourceURL,
		rec.StorageURL,
		string(rec.Source),
		now,
		now,
	}
	var stored string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&stored); err != nil {
		return "", fmt.Errorf("insert paper: %w", err)
	}
	return stored, nil
}

// Get fetches a row by id.
func (s *PaperStore) Get(ctx context.Context, id string) (paper.Record, error) {
	if !uuid.Valid(id) {
		return paper.Record{}, paper.ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return paper.Record{}, paper.ErrNotFound
	}
	if err != nil {
		return paper.Record{}, fmt.Errorf("get paper: %w", err)
	}
	return rec, nil
}

// List returns rows matching filter, newest first.
func (s *PaperStore) List(ctx context.Context, filter paper.Filter) ([]paper.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("year", filter.Year)
	add("semester", filter.Semester)
	add("branch", filter.Branch)
	add("subject_name", filter.Subject)

	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = paper.DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectColumns, s.table)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryRecords(ctx, b.String(), args...)
}

// Search returns rows whose title, subject name or code contains term,
// case-insensitively.
func (s *PaperStore) Search(ctx context.Context, term string, limit int) ([]paper.Record, error) {
	if limit <= 0 {
		limit = paper.DefaultLimit
	}
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE title ILIKE $1 OR subject_name ILIKE $1 OR subject_code ILIKE $1
ORDER BY created_at DESC LIMIT $2`, selectColumns, s.table)
	return s.queryRecords(ctx, query, pattern, limit)
}

// Distinct returns the sorted non-empty values of field.
func (s *PaperStore) Distinct(ctx context.Context, field paper.Field) ([]string, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("field %q cannot be enumerated", field)
	}
	column := string(field)
	query := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s <> '' ORDER BY %[1]s`, column, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	return values, nil
}

const selectColumns = `id::text, title, subject_code, subject_name, year, semester, branch,
	exam_type, source_url, storage_url, source, created_at, updated_at`

func (s *PaperStore) queryRecords(ctx context.Context, query string, args ...any) ([]paper.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query papers: %w", err)
	}
	defer rows.Close()
	out := []paper.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (paper.Record, error) {
	var (
		rec       paper.Record
		source    string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&rec.ID,
		&rec.Title,
		&rec.SubjectCode,
		&rec.SubjectName,
		&rec.Year,
		&rec.Semester,
		&rec.Branch,
		&rec.ExamType,
		&rec.SourceURL,
		&rec.StorageURL,
		&source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return paper.Record{}, err
	}
	rec.Source = paper.Source(source)
	rec.CreatedAt = &createdAt
	rec.UpdatedAt = &updatedAt
	return rec, nil
}

func (s *PaperStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}
