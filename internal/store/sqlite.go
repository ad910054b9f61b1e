package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/codevat/runbox/internal/job"
)

type SQLiteStore struct {
	db *sqlx.DB
}

// Open creates the database file (and its directory) if needed, verifies
// the connection and applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn between concurrent supervisors.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
  id             TEXT PRIMARY KEY,
  owner          TEXT NOT NULL,
  status         TEXT NOT NULL,          -- not_started|running|done
  source         TEXT NOT NULL,
  args           TEXT NOT NULL DEFAULT '[]',
  input_files    TEXT NOT NULL DEFAULT '[]',
  sandbox_id     TEXT NOT NULL DEFAULT '',
  stdout         TEXT NOT NULL DEFAULT '',
  stderr         TEXT NOT NULL DEFAULT '',
  crashed        INTEGER NOT NULL DEFAULT 0,
  timed_out      INTEGER NOT NULL DEFAULT 0,
  peak_memory_mb REAL NOT NULL DEFAULT 0,
  peak_cpu_pct   REAL NOT NULL DEFAULT 0,
  execution_ms   INTEGER NOT NULL DEFAULT 0,
  created_at     TIMESTAMP NOT NULL,
  started_at     TIMESTAMP,
  completed_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS api_keys (
  key         TEXT PRIMARY KEY,
  created_at  TIMESTAMP NOT NULL,
  description TEXT NOT NULL DEFAULT ''
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateJob(ctx context.Context, seed job.Seed) (string, error) {
	id := seed.ID
	if id == "" {
		id = uuid.NewString()
	}

	args, err := json.Marshal(seed.Args)
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}
	files, err := json.Marshal(seed.InputFiles)
	if err != nil {
		return "", fmt.Errorf("failed to encode input files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, owner, status, source, args, input_files, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seed.Owner, job.StatusNotStarted, seed.Source, string(args), string(files), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

// MarkRunning moves not_started -> running. Re-entry on an already running
// job is a no-op; a finalized job rejects the transition.
func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status=?, started_at=?
WHERE id=? AND status=?`,
		job.StatusRunning, time.Now().UTC(), id, job.StatusNotStarted)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	status, err := s.jobStatus(ctx, id)
	if err != nil {
		return err
	}
	switch status {
	case job.StatusRunning:
		return nil
	default:
		return fmt.Errorf("cannot mark job %s running from %s: %w", id, status, ErrInvalidTransition)
	}
}

func (s *SQLiteStore) AttachSandbox(ctx context.Context, id, sandboxID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET sandbox_id=? WHERE id=?`, sandboxID, id)
	if err != nil {
		return fmt.Errorf("failed to attach sandbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Finalize writes every terminal field and status=done in one statement.
// The status guard makes concurrent finalize attempts race for a single
// winning row update; losers observe ErrInvalidTransition.
func (s *SQLiteStore) Finalize(ctx context.Context, id string, out job.Outcome) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status=?, stdout=?, stderr=?, crashed=?, timed_out=?,
    peak_memory_mb=?, peak_cpu_pct=?, execution_ms=?, completed_at=?
WHERE id=? AND status!=?`,
		job.StatusDone, string(out.Stdout), string(out.Stderr),
		boolToInt(out.Crashed), boolToInt(out.TimedOut),
		out.PeakMemoryMB, out.PeakCPUPct, out.ExecutionMS, time.Now().UTC(),
		id, job.StatusDone)
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	if _, err := s.jobStatus(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("job %s is already finalized: %w", id, ErrInvalidTransition)
}

func (s *SQLiteStore) jobStatus(ctx context.Context, id string) (job.Status, error) {
	var status job.Status
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return status, nil
}

type jobRow struct {
	ID           string       `db:"id"`
	Owner        string       `db:"owner"`
	Status       job.Status   `db:"status"`
	Source       string       `db:"source"`
	Args         string       `db:"args"`
	InputFiles   string       `db:"input_files"`
	SandboxID    string       `db:"sandbox_id"`
	Stdout       string       `db:"stdout"`
	Stderr       string       `db:"stderr"`
	Crashed      bool         `db:"crashed"`
	TimedOut     bool         `db:"timed_out"`
	PeakMemoryMB float64      `db:"peak_memory_mb"`
	PeakCPUPct   float64      `db:"peak_cpu_pct"`
	ExecutionMS  int64        `db:"execution_ms"`
	CreatedAt    time.Time    `db:"created_at"`
	StartedAt    sql.NullTime `db:"started_at"`
	CompletedAt  sql.NullTime `db:"completed_at"`
}

func (r *jobRow) toJob() (*job.Job, error) {
	j := &job.Job{
		ID:           r.ID,
		Owner:        r.Owner,
		Status:       r.Status,
		Source:       r.Source,
		SandboxID:    r.SandboxID,
		Stdout:       r.Stdout,
		Stderr:       r.Stderr,
		Crashed:      r.Crashed,
		TimedOut:     r.TimedOut,
		PeakMemoryMB: r.PeakMemoryMB,
		PeakCPUPct:   r.PeakCPUPct,
		ExecutionMS:  r.ExecutionMS,
		CreatedAt:    r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Args), &j.Args); err != nil {
		return nil, fmt.Errorf("failed to decode args: %w", err)
	}
	if err := json.Unmarshal([]byte(r.InputFiles), &j.InputFiles); err != nil {
		return nil, fmt.Errorf("failed to decode input files: %w", err)
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// GetJob fetches one job. A non-empty owner scopes the lookup to that
// tenant; a mismatch reads the same as a missing id.
func (s *SQLiteStore) GetJob(ctx context.Context, id, owner string) (*job.Job, error) {
	query := `SELECT * FROM jobs WHERE id=?`
	args := []any{id}
	if owner != "" {
		query += ` AND owner=?`
		args = append(args, owner)
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return row.toJob()
}

func (s *SQLiteStore) ListJobs(ctx context.Context, owner string, limit, offset int) ([]job.Summary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows := []struct {
		ID          string       `db:"id"`
		Status      job.Status   `db:"status"`
		Crashed     bool         `db:"crashed"`
		TimedOut    bool         `db:"timed_out"`
		CreatedAt   time.Time    `db:"created_at"`
		CompletedAt sql.NullTime `db:"completed_at"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `
SELECT id, status, crashed, timed_out, created_at, completed_at
FROM jobs WHERE owner=?
ORDER BY created_at DESC
LIMIT ? OFFSET ?`, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]job.Summary, 0, len(rows))
	for _, r := range rows {
		sum := job.Summary{
			ID:        r.ID,
			Status:    r.Status,
			Crashed:   r.Crashed,
			TimedOut:  r.TimedOut,
			CreatedAt: r.CreatedAt,
		}
		if r.CompletedAt.Valid {
			t := r.CompletedAt.Time
			sum.CompletedAt = &t
		}
		out = append(out, sum)
	}
	return out, nil
}

// RunningJobs is used by the startup sweeper to reconcile jobs a previous
// process left behind.
func (s *SQLiteStore) RunningJobs(ctx context.Context) ([]job.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM jobs WHERE status=?`, job.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}

	out := make([]job.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
