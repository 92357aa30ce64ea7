package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates the database directory, connects and migrates.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
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
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
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
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateJob creates a new job record
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job.Status == "" {
		job.Status = engine.JobStatusRunning
	}
	if err := job.Status.Validate(); err != nil {
		return err
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}

	query := `
		INSERT INTO jobs (
			id, collection_id, status, output_type, store_root, config_path,
			item_count, feature_count, pmtiles, dry_run, verified, error,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.CollectionID,
		string(job.Status),
		job.OutputType,
		job.StoreRoot,
		job.ConfigPath,
		job.ItemCount,
		job.FeatureCount,
		job.PMTiles,
		job.DryRun,
		job.Verified,
		job.Error,
		formatTime(job.StartedAt),
		formatTimePtr(job.CompletedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// CompleteJob marks a job succeeded, or dry_run when the outcome says so.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, outcome JobOutcome) error {
	status := engine.JobStatusSucceeded
	if outcome.DryRun {
		status = engine.JobStatusDryRun
	}

	query := `
		UPDATE jobs
		SET status = ?, item_count = ?, feature_count = ?, pmtiles = ?, dry_run = ?,
			verified = ?, output_type = ?, store_root = ?, error = NULL, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(status),
		outcome.ItemCount,
		outcome.FeatureCount,
		outcome.PMTiles,
		outcome.DryRun,
		outcome.Verified,
		outcome.OutputType,
		outcome.StoreRoot,
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return expectRow(result, "job", id)
}

// FailJob marks a job failed with errMsg.
func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string) error {
	query := `UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, string(engine.JobStatusFailed), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return expectRow(result, "job", id)
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	return nil
}

const jobColumns = `id, collection_id, status, output_type, store_root, config_path,
	item_count, feature_count, pmtiles, dry_run, verified, error, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var (
		status    string
		started   string
		completed sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.CollectionID,
		&status,
		&job.OutputType,
		&job.StoreRoot,
		&job.ConfigPath,
		&job.ItemCount,
		&job.FeatureCount,
		&job.PMTiles,
		&job.DryRun,
		&job.Verified,
		&job.Error,
		&started,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	job.Status = engine.JobStatus(status)
	if job.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobs lists jobs newest first with pagination
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// AddItems records the items of a job in one transaction.
func (s *SQLiteStore) AddItems(ctx context.Context, jobID string, items []JobItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	var base int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_items WHERE job_id = ?`, jobID).Scan(&base); err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_items (job_id, item_id, position, feature_id, datetime, end_datetime, primary_href)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		_, err := stmt.ExecContext(ctx,
			jobID,
			item.ItemID,
			base+i,
			item.FeatureID,
			formatTime(item.Start),
			formatTimePtr(item.End),
			item.PrimaryHref,
		)
		if err != nil {
			return fmt.Errorf("failed to add item %s: %w", item.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit items: %w", err)
	}
	return nil
}

// ListJobItems lists the items of a job in plan order
func (s *SQLiteStore) ListJobItems(ctx context.Context, jobID string) ([]*JobItem, error) {
	query := `
		SELECT job_id, item_id, feature_id, datetime, end_datetime, primary_href
		FROM job_items
		WHERE job_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job items: %w", err)
	}
	defer rows.Close()

	items := []*JobItem{}
	for rows.Next() {
		item := &JobItem{}
		var (
			start string
			end   sql.NullString
		)
		if err := rows.Scan(&item.JobID, &item.ItemID, &item.FeatureID, &start, &end, &item.PrimaryHref); err != nil {
			return nil, fmt.Errorf("failed to scan job item: %w", err)
		}
		if item.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if item.End, err = parseTimePtr(end); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job items: %w", err)
	}

	return items, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	query := `
		INSERT INTO events (id, job_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.JobID,
		event.Type,
		string(event.Level),
		event.Message,
		event.Details,
		formatTime(event.Timestamp),
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents retrieves events in append order with optional filters and pagination
func (s *SQLiteStore) ListEvents(ctx context.Context, jobID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}
	var levelArg *string
	if level != nil {
		l := string(*level)
		levelArg = &l
	}

	query := `
		SELECT id, job_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR job_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY seq ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, jobID, jobID, levelArg, levelArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var (
			level string
			ts    string
		)
		err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.Type,
			&level,
			&event.Message,
			&event.Details,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Level = EventLevel(level)
		if event.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
