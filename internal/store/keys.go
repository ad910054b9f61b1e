package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codevat/runbox/internal/job"
)

// APIKey identifies one tenant. Keys double as the owner token on jobs.
type APIKey struct {
	Key         string    `db:"key"`
	CreatedAt   time.Time `db:"created_at"`
	Description string    `db:"description"`
}

var ErrKeyNotFound = errors.New("api key not found")

func (s *SQLiteStore) CreateKey(ctx context.Context, key, description string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys (key, created_at, description) VALUES (?, ?, ?)`,
		key, time.Now().UTC(), description)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) KeyExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM api_keys WHERE key=?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up api key: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.SelectContext(ctx, &keys, `
SELECT key, created_at, description FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

func (s *SQLiteStore) RevokeKey(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE key=?`, key)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// JobStats is the runboxctl stats view: totals by status plus the
// crash/timeout split of finished jobs.
type JobStats struct {
	NotStarted int
	Running    int
	Done       int
	Crashed    int
	TimedOut   int
}

func (s *SQLiteStore) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status job.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case job.StatusNotStarted:
			stats.NotStarted = n
		case job.StatusRunning:
			stats.Running = n
		case job.StatusDone:
			stats.Done = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.GetContext(ctx, &stats.Crashed, `SELECT COUNT(*) FROM jobs WHERE crashed=1`)
	if err != nil {
		return nil, fmt.Errorf("failed to count crashed jobs: %w", err)
	}
	err = s.db.GetContext(ctx, &stats.TimedOut, `SELECT COUNT(*) FROM jobs WHERE timed_out=1`)
	if err != nil {
		return nil, fmt.Errorf("failed to count timed out jobs: %w", err)
	}
	return stats, nil
}
