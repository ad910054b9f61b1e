package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/codevat/runbox/internal/job"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runbox.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := job.Seed{
		Owner:  "key-a",
		Source: "public class Main {}",
		Args:   []string{"x", "y", "z with space"},
		InputFiles: []job.InputFile{
			{Name: "numbers.txt", Content: "10 20 30 40 50"},
		},
	}
	id, err := s.CreateJob(ctx, seed)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if id == "" {
		t.Fatal("CreateJob returned empty id")
	}

	j, err := s.GetJob(ctx, id, "key-a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusNotStarted {
		t.Errorf("status = %s, want %s", j.Status, job.StatusNotStarted)
	}
	if j.Source != seed.Source {
		t.Errorf("source = %q, want %q", j.Source, seed.Source)
	}
	if len(j.Args) != 3 || j.Args[2] != "z with space" {
		t.Errorf("args = %v, want %v", j.Args, seed.Args)
	}
	if len(j.InputFiles) != 1 || j.InputFiles[0].Content != "10 20 30 40 50" {
		t.Errorf("input files = %v, want %v", j.InputFiles, seed.InputFiles)
	}
	if j.StartedAt != nil || j.CompletedAt != nil {
		t.Error("timestamps beyond created_at should be unset on a fresh job")
	}
}

func TestOwnerScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateJob(ctx, job.Seed{Owner: "key-a", Source: "src"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := s.GetJob(ctx, id, "key-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant GetJob error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetJob(ctx, id, ""); err != nil {
		t.Errorf("unscoped GetJob error = %v, want nil", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateJob(ctx, job.Seed{Owner: "k", Source: "src"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.MarkRunning(ctx, id); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	// Re-entry on a running job is a no-op success.
	if err := s.MarkRunning(ctx, id); err != nil {
		t.Fatalf("second MarkRunning: %v", err)
	}

	j, err := s.GetJob(ctx, id, "")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusRunning {
		t.Errorf("status = %s, want %s", j.Status, job.StatusRunning)
	}
	if j.StartedAt == nil {
		t.Error("started_at should be set once running")
	}

	out := job.Outcome{
		Stdout:       []byte("hi\n"),
		PeakMemoryMB: 12.5,
		PeakCPUPct:   88,
		ExecutionMS:  1234,
	}
	if err := s.Finalize(ctx, id, out); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	j, err = s.GetJob(ctx, id, "")
	if err != nil {
		t.Fatalf("GetJob after finalize: %v", err)
	}
	if j.Status != job.StatusDone {
		t.Errorf("status = %s, want %s", j.Status, job.StatusDone)
	}
	if j.Stdout != "hi\n" || j.Crashed || j.TimedOut {
		t.Errorf("outcome not persisted faithfully: %+v", j)
	}
	if j.CompletedAt == nil {
		t.Error("completed_at should be set once done")
	}
	if j.ExecutionMS != 1234 || j.PeakMemoryMB != 12.5 || j.PeakCPUPct != 88 {
		t.Errorf("telemetry fields not persisted: %+v", j)
	}

	// Once done the record is immutable: neither transition may land.
	if err := s.MarkRunning(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkRunning on done job = %v, want ErrInvalidTransition", err)
	}
	if err := s.Finalize(ctx, id, out); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Finalize = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionsOnMissingJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.MarkRunning(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRunning = %v, want ErrNotFound", err)
	}
	if err := s.Finalize(ctx, "no-such-id", job.Outcome{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finalize = %v, want ErrNotFound", err)
	}
	if err := s.AttachSandbox(ctx, "no-such-id", "sb"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AttachSandbox = %v, want ErrNotFound", err)
	}
}

func TestConcurrentFinalizeHasOneWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateJob(ctx, job.Seed{Owner: "k", Source: "src"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.MarkRunning(ctx, id); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	const contenders = 8
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Finalize(ctx, id, job.Outcome{ExecutionMS: int64(i)})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Errorf("unexpected finalize error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		id, err := s.CreateJob(ctx, job.Seed{Owner: "k", Source: "src"})
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		ids[i] = id
	}
	// Another tenant's job must not show up.
	if _, err := s.CreateJob(ctx, job.Seed{Owner: "other", Source: "src"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	jobs, err := s.ListJobs(ctx, "k", 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}
	for i := 1; i < len(jobs); i++ {
		if jobs[i].CreatedAt.After(jobs[i-1].CreatedAt) {
			t.Errorf("jobs not newest-first at index %d", i)
		}
	}

	page, err := s.ListJobs(ctx, "k", 2, 2)
	if err != nil {
		t.Fatalf("ListJobs with offset: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("len(page) = %d, want 1", len(page))
	}
}

func TestRunningJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	idle, _ := s.CreateJob(ctx, job.Seed{Owner: "k", Source: "src"})
	active, _ := s.CreateJob(ctx, job.Seed{Owner: "k", Source: "src"})
	if err := s.MarkRunning(ctx, active); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := s.AttachSandbox(ctx, active, "sb-123"); err != nil {
		t.Fatalf("AttachSandbox: %v", err)
	}

	running, err := s.RunningJobs(ctx)
	if err != nil {
		t.Fatalf("RunningJobs: %v", err)
	}
	if len(running) != 1 || running[0].ID != active {
		t.Fatalf("RunningJobs = %v, want just %s", running, active)
	}
	if running[0].SandboxID != "sb-123" {
		t.Errorf("sandbox_id = %q, want sb-123", running[0].SandboxID)
	}
	_ = idle
}

func TestAPIKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateKey(ctx, "key-1", "ci runner"); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	ok, err := s.KeyExists(ctx, "key-1")
	if err != nil || !ok {
		t.Errorf("KeyExists(key-1) = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.KeyExists(ctx, "key-2")
	if err != nil || ok {
		t.Errorf("KeyExists(key-2) = %v, %v; want false, nil", ok, err)
	}

	keys, err := s.ListKeys(ctx)
	if err != nil || len(keys) != 1 || keys[0].Description != "ci runner" {
		t.Errorf("ListKeys = %v, %v", keys, err)
	}

	if err := s.RevokeKey(ctx, "key-1"); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if err := s.RevokeKey(ctx, "key-1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("second RevokeKey = %v, want ErrKeyNotFound", err)
	}
}
