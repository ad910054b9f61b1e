package sandbox

import (
	"context"
	"io"
)

// Spec describes one sandbox to create. Labels must carry the project tag
// and the job id so the sweeper can find strays.
type Spec struct {
	Image       string
	Cmd         []string
	WorkingDir  string
	MemoryBytes int64
	CPUShares   int64
	Labels      map[string]string
}

// Driver is the narrow slice of a container runtime the engine needs.
//
// Create never auto-removes: the supervisor removes sandboxes explicitly so
// removal can be observed on every failure path. A failed removal is logged
// and left to the startup sweeper.
type Driver interface {
	Create(ctx context.Context, spec Spec) (string, error)
	// Upload places a tar archive into the sandbox filesystem at path.
	Upload(ctx context.Context, id string, archive io.Reader, path string) error
	// Attach opens the multiplexed stdout/stderr stream. It must be opened
	// before Start so no initial output is missed.
	Attach(ctx context.Context, id string) (io.ReadCloser, error)
	Start(ctx context.Context, id string) error
	// Stats opens the live statistics stream (one JSON frame per line).
	Stats(ctx context.Context, id string) (io.ReadCloser, error)
	// Wait blocks until the sandbox exits and returns its exit code.
	Wait(ctx context.Context, id string) (int64, error)
	// Kill is best-effort; the sandbox may already be gone.
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, force bool) error
	// List returns the ids of all sandboxes carrying the given label.
	List(ctx context.Context, labelKey, labelValue string) ([]string, error)
	EnsureImage(ctx context.Context, image string) error
}
