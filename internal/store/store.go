// Package store persists jobs and API keys in a local SQLite database.
package store

import (
	"context"
	"errors"

	"github.com/codevat/runbox/internal/job"
)

var (
	// ErrNotFound is returned when no job matches the id (and owner, when
	// one is given).
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a write would move a job
	// backwards through its state machine, e.g. finalizing twice.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Store is what the engine and the HTTP handlers need from persistence.
// All writes for a single job are serialized by id; status only ever moves
// not_started -> running -> done.
type Store interface {
	CreateJob(ctx context.Context, seed job.Seed) (string, error)
	MarkRunning(ctx context.Context, id string) error
	AttachSandbox(ctx context.Context, id, sandboxID string) error
	Finalize(ctx context.Context, id string, out job.Outcome) error
	GetJob(ctx context.Context, id, owner string) (*job.Job, error)
	ListJobs(ctx context.Context, owner string, limit, offset int) ([]job.Summary, error)
	RunningJobs(ctx context.Context) ([]job.Job, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	Close() error
}
