package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Postgres driver
	_ "github.com/jackc/pgx/v5/stdlib"
	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Driver names accepted in Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so that lexical order of stored timestamps
// equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore implements the Store interface on SQLite or PostgreSQL
type SQLStore struct {
	db     *sql.DB
	driver string
	dsn    string
	cfg    Config
}

// Config holds SQL store configuration
type Config struct {
	Driver          string // "sqlite" (default) or "postgres"
	Path            string // sqlite database file, ":memory:" allowed
	URL             string // postgres connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLStore creates a new store instance. Init must be called before use.
func NewSQLStore(cfg Config) (*SQLStore, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	s := &SQLStore{driver: cfg.Driver}

	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		s.dsn = sqliteDSN(cfg.Path)
	case DriverPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("database url is required")
		}
		s.dsn = cfg.URL
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to ":memory:" would see its own empty database.
	if cfg.Driver == DriverSQLite && cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	s.cfg = cfg
	return s, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return path + "?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// Init opens the database connection and verifies it.
func (s *SQLStore) Init(ctx context.Context) error {
	driverName := "sqlite"
	if s.driver == DriverPostgres {
		driverName = "pgx"
	} else if s.cfg.Path != ":memory:" {
		if dir := filepath.Dir(s.cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Driver returns the configured driver name.
func (s *SQLStore) Driver() string {
	return s.driver
}

// Migrate runs the embedded migrations for the configured driver.
func (s *SQLStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var (
		dbDriver database.Driver
		dbName   string
	)
	switch s.driver {
	case DriverPostgres:
		dbDriver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
		dbName = "pgx5"
	default:
		dbDriver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		dbName = "sqlite"
	}
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateBatch creates a new batch record
func (s *SQLStore) CreateBatch(ctx context.Context, batch *SyncBatch) error {
	if err := batch.Status.Validate(); err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO sync_batches (id, template_name, workspace_slug, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		batch.ID,
		batch.TemplateName,
		batch.WorkspaceSlug,
		string(batch.Status),
		batch.Error,
		formatTime(batch.CreatedAt),
		formatTime(batch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	return nil
}

const batchColumns = `id, template_name, workspace_slug, status, error, created_at, updated_at`

func scanBatch(row rowScanner) (*SyncBatch, error) {
	var (
		batch                SyncBatch
		status               string
		errMsg               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&batch.ID,
		&batch.TemplateName,
		&batch.WorkspaceSlug,
		&status,
		&errMsg,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	batch.Status = BatchStatus(status)
	batch.Error = nullString(errMsg)
	if batch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if batch.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatch retrieves a batch by ID
func (s *SQLStore) GetBatch(ctx context.Context, id string) (*SyncBatch, error) {
	query := s.rebind(`SELECT ` + batchColumns + ` FROM sync_batches WHERE id = ?`)

	batch, err := scanBatch(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return batch, nil
}

// UpdateBatchStatus updates a batch status and its last error message
func (s *SQLStore) UpdateBatchStatus(ctx context.Context, id string, status BatchStatus, errMsg *string) error {
	if err := status.Validate(); err != nil {
		return err
	}

	query := s.rebind(`
		UPDATE sync_batches
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?
	`)

	result, err := s.db.ExecContext(ctx, query, string(status), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListBatches lists batches newest first with pagination
func (s *SQLStore) ListBatches(ctx context.Context, limit, offset int) ([]*SyncBatch, error) {
	query := s.rebind(`
		SELECT ` + batchColumns + `
		FROM sync_batches
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []*SyncBatch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}

	return batches, nil
}

// RecordResource appends a ledger row and sets res.ID.
func (s *SQLStore) RecordResource(ctx context.Context, res *CreatedResource) error {
	if err := res.ResourceType.Validate(); err != nil {
		return err
	}
	if res.RemoteID == "" {
		return fmt.Errorf("remote id is required")
	}

	query := s.rebind(`
		INSERT INTO created_resources (
			batch_id, resource_type, remote_id, name, project_slug,
			project_id, workspace_slug, parent_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowContext(ctx, query,
		res.BatchID,
		string(res.ResourceType),
		res.RemoteID,
		res.Name,
		res.ProjectSlug,
		res.ProjectID,
		res.WorkspaceSlug,
		res.ParentID,
		formatTime(res.CreatedAt),
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("failed to record %s %s: %w", res.ResourceType, res.RemoteID, err)
	}

	return nil
}

const resourceColumns = `id, batch_id, resource_type, remote_id, name, project_slug, project_id, workspace_slug, parent_id, created_at`

func scanResource(row rowScanner) (*CreatedResource, error) {
	var (
		res          CreatedResource
		resourceType string
		parentID     sql.NullString
		createdAt    string
	)
	if err := row.Scan(
		&res.ID,
		&res.BatchID,
		&resourceType,
		&res.RemoteID,
		&res.Name,
		&res.ProjectSlug,
		&res.ProjectID,
		&res.WorkspaceSlug,
		&parentID,
		&createdAt,
	); err != nil {
		return nil, err
	}

	var err error
	res.ResourceType = ResourceType(resourceType)
	res.ParentID = nullString(parentID)
	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *SQLStore) queryResources(ctx context.Context, query string, args ...any) ([]*CreatedResource, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*CreatedResource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// ListResources returns every ledger row of a batch. OrderReverse yields
// created_at DESC with ties broken by id DESC, the order cleanup deletes in.
func (s *SQLStore) ListResources(ctx context.Context, batchID string, order Order) ([]*CreatedResource, error) {
	orderBy := "created_at ASC, id ASC"
	if order == OrderReverse {
		orderBy = "created_at DESC, id DESC"
	}

	return s.queryResources(ctx, `
		SELECT `+resourceColumns+`
		FROM created_resources
		WHERE batch_id = ?
		ORDER BY `+orderBy, batchID)
}

// ListResourcesByType returns the rows of one kind created under a project.
func (s *SQLStore) ListResourcesByType(ctx context.Context, batchID, projectID string, resourceType ResourceType) ([]*CreatedResource, error) {
	return s.queryResources(ctx, `
		SELECT `+resourceColumns+`
		FROM created_resources
		WHERE batch_id = ? AND project_id = ? AND resource_type = ?
		ORDER BY created_at ASC, id ASC`, batchID, projectID, string(resourceType))
}

// CountResources returns the number of ledger rows left for a batch
func (s *SQLStore) CountResources(ctx context.Context, batchID string) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM created_resources WHERE batch_id = ?`)

	var count int
	if err := s.db.QueryRowContext(ctx, query, batchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return count, nil
}

// DeleteResource removes a ledger row by ID
func (s *SQLStore) DeleteResource(ctx context.Context, id int64) error {
	query := s.rebind(`DELETE FROM created_resources WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("resource %d: %w", id, ErrNotFound)
	}

	return nil
}

// AppendEvent appends an event to the operation log
func (s *SQLStore) AppendEvent(ctx context.Context, event *Event) error {
	query := s.rebind(`
		INSERT INTO events (batch_id, level, step, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowContext(ctx, query,
		event.BatchID,
		string(event.Level),
		event.Step,
		event.Message,
		event.Details,
		formatTime(event.Timestamp),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents retrieves events with optional filters, oldest first
func (s *SQLStore) GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.BatchID != nil {
		where = append(where, "batch_id = ?")
		args = append(args, *filter.BatchID)
	}
	if filter.Level != nil {
		where = append(where, "level = ?")
		args = append(args, string(*filter.Level))
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `SELECT id, batch_id, level, step, message, details, timestamp FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			event     Event
			batchID   sql.NullString
			level     string
			details   sql.NullString
			timestamp string
		)
		if err := rows.Scan(&event.ID, &batchID, &level, &event.Step, &event.Message, &details, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.BatchID = nullString(batchID)
		event.Level = EventLevel(level)
		event.Details = nullString(details)
		if event.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// UpsertFact inserts or updates a cached fact
func (s *SQLStore) UpsertFact(ctx context.Context, fact *Fact) error {
	if fact.TTL > 0 && fact.ExpiresAt == nil {
		expires := fact.UpdatedAt.Add(time.Duration(fact.TTL) * time.Second)
		fact.ExpiresAt = &expires
	}

	query := s.rebind(`
		INSERT INTO facts (
			id, target_id, namespace, key, value, ttl, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target_id, namespace, key) DO UPDATE SET
			value = excluded.value,
			ttl = excluded.ttl,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		fact.ID,
		fact.TargetID,
		fact.Namespace,
		fact.Key,
		fact.Value,
		fact.TTL,
		formatTimePtr(fact.ExpiresAt),
		formatTime(fact.CreatedAt),
		formatTime(fact.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	return nil
}

const factColumns = `id, target_id, namespace, key, value, ttl, expires_at, created_at, updated_at`

func scanFact(row rowScanner) (*Fact, error) {
	var (
		fact                 Fact
		expiresAt            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&fact.ID,
		&fact.TargetID,
		&fact.Namespace,
		&fact.Key,
		&fact.Value,
		&fact.TTL,
		&expiresAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if fact.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if fact.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if fact.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &fact, nil
}

// GetFact retrieves an unexpired fact by target, namespace, and key
func (s *SQLStore) GetFact(ctx context.Context, targetID, namespace, key string) (*Fact, error) {
	query := s.rebind(`
		SELECT ` + factColumns + `
		FROM facts
		WHERE target_id = ? AND namespace = ? AND key = ?
		  AND (expires_at IS NULL OR expires_at > ?)
	`)

	fact, err := scanFact(s.db.QueryRowContext(ctx, query, targetID, namespace, key, formatTime(time.Now())))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fact %s/%s/%s: %w", targetID, namespace, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fact: %w", err)
	}

	return fact, nil
}

// ListFacts lists unexpired facts with optional filters and pagination
func (s *SQLStore) ListFacts(ctx context.Context, targetID *string, namespace *string, limit, offset int) ([]*Fact, error) {
	where := []string{"(expires_at IS NULL OR expires_at > ?)"}
	args := []any{formatTime(time.Now())}
	if targetID != nil {
		where = append(where, "target_id = ?")
		args = append(args, *targetID)
	}
	if namespace != nil {
		where = append(where, "namespace = ?")
		args = append(args, *namespace)
	}
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, offset)

	query := `SELECT ` + factColumns + ` FROM facts WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY target_id, namespace, key LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	facts := []*Fact{}
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, fact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}

	return facts, nil
}

// DeleteExpiredFacts deletes all expired facts
func (s *SQLStore) DeleteExpiredFacts(ctx context.Context) (int64, error) {
	query := s.rebind(`DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?`)

	result, err := s.db.ExecContext(ctx, query, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired facts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck performs a health check on the database
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
