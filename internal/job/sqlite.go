package job

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Compile-time check that SQLiteRegistry implements Registry.
var _ Registry = (*SQLiteRegistry)(nil)

// SQLiteRegistry persists jobs in a SQLite database so records survive
// restarts. A single connection serializes all writers.
type SQLiteRegistry struct {
	db *sql.DB
}

const jobColumns = `id, status, progress, template_id, width, height, duration_frames,
	output_name, output_url, error, created_at, updated_at, started_at, completed_at, failed_at`

// NewSQLiteRegistry opens (or creates) the database at path and applies migrations.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &SQLiteRegistry{db: db}
	if err := r.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database.
func (r *SQLiteRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRegistry) init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := r.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := r.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename ("001_jobs.sql" → 1).
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(c rune) bool { return c < '0' || c > '9' })
	if end <= 0 {
		return 0
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

// Create inserts a new job.
func (r *SQLiteRegistry) Create(ctx context.Context, job *Job) error {
	j := job.Clone()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, j.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if exists > 0 {
		return ErrJobExists
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Status), j.Progress, j.TemplateID, j.Width, j.Height, j.DurationFrames,
		j.OutputName, j.OutputURL, j.Error,
		toUnix(j.CreatedAt), toUnix(j.UpdatedAt), toUnix(j.StartedAt), toUnix(j.CompletedAt), toUnix(j.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return tx.Commit()
}

// Get loads a job.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// Transition loads the job, applies the transition and writes it back only
// if the stored status is still the one the transition was checked against.
func (r *SQLiteRegistry) Transition(ctx context.Context, id string, status Status, p Payload) (*Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	from := j.Status
	if err := j.Apply(status, p, time.Now().UTC()); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET
		status = ?, progress = ?, output_name = ?, output_url = ?, error = ?,
		updated_at = ?, started_at = ?, completed_at = ?, failed_at = ?
		WHERE id = ? AND status = ?`,
		string(j.Status), j.Progress, j.OutputName, j.OutputURL, j.Error,
		toUnix(j.UpdatedAt), toUnix(j.StartedAt), toUnix(j.CompletedAt), toUnix(j.FailedAt),
		id, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrInvalidTransition
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return j, nil
}

// List returns all jobs, oldest first.
func (r *SQLiteRegistry) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job.
func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecoverInterrupted fails every job a previous process left pending or
// processing, since no worker will ever pick them up again. It returns the
// number of jobs failed.
func (r *SQLiteRegistry) RecoverInterrupted(ctx context.Context, reason string) (int, error) {
	now := toUnix(time.Now().UTC())
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET
		status = ?, error = ?, updated_at = ?, failed_at = ?,
		started_at = CASE WHEN started_at = 0 THEN ? ELSE started_at END,
		progress = CASE WHEN progress < ? THEN ? ELSE progress END
		WHERE status IN (?, ?)`,
		string(StatusFailed), TruncateError(reason), now, now,
		now,
		ProgressProcessing, ProgressProcessing,
		string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                            Job
		status                                       string
		created, updated, started, completed, failed int64
	)
	err := row.Scan(
		&j.ID, &status, &j.Progress, &j.TemplateID, &j.Width, &j.Height, &j.DurationFrames,
		&j.OutputName, &j.OutputURL, &j.Error,
		&created, &updated, &started, &completed, &failed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = Status(status)
	j.CreatedAt = fromUnix(created)
	j.UpdatedAt = fromUnix(updated)
	j.StartedAt = fromUnix(started)
	j.CompletedAt = fromUnix(completed)
	j.FailedAt = fromUnix(failed)
	return &j, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
