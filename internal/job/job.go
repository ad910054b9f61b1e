package job

import "time"

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusDone       Status = "done"
)

// InputFile is a companion file staged next to the source inside the sandbox.
type InputFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Job is one submission of source plus inputs, tracked end-to-end.
// Terminal fields are meaningful only once Status is done; after that the
// record never changes.
type Job struct {
	ID         string      `json:"id" db:"id"`
	Owner      string      `json:"-" db:"owner"`
	Status     Status      `json:"status" db:"status"`
	Source     string      `json:"source" db:"source"`
	Args       []string    `json:"args"`
	InputFiles []InputFile `json:"input_files"`

	SandboxID string `json:"-" db:"sandbox_id"`

	Stdout       string  `json:"stdout" db:"stdout"`
	Stderr       string  `json:"stderr" db:"stderr"`
	Crashed      bool    `json:"crashed" db:"crashed"`
	TimedOut     bool    `json:"timed_out" db:"timed_out"`
	PeakMemoryMB float64 `json:"peak_memory_mb" db:"peak_memory_mb"`
	PeakCPUPct   float64 `json:"peak_cpu_pct" db:"peak_cpu_pct"`
	ExecutionMS  int64   `json:"execution_ms" db:"execution_ms"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Seed is what the submit path provides; everything else is filled in by
// the store and the supervisor.
type Seed struct {
	ID         string
	Owner      string
	Source     string
	Args       []string
	InputFiles []InputFile
}

// Outcome carries every terminal field written by a single Finalize.
type Outcome struct {
	Stdout       []byte
	Stderr       []byte
	Crashed      bool
	TimedOut     bool
	PeakMemoryMB float64
	PeakCPUPct   float64
	ExecutionMS  int64
}

// Summary is the list-view projection of a Job.
type Summary struct {
	ID          string     `json:"id" db:"id"`
	Status      Status     `json:"status" db:"status"`
	Crashed     bool       `json:"crashed" db:"crashed"`
	TimedOut    bool       `json:"timed_out" db:"timed_out"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
