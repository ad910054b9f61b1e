// Package engine owns the lifecycle of submitted jobs: one supervisor per
// job drives a sandbox from creation through finalization and guarantees
// the sandbox is released on every path out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/codevat/runbox/internal/config"
	"github.com/codevat/runbox/internal/job"
	"github.com/codevat/runbox/internal/metrics"
	"github.com/codevat/runbox/internal/sampler"
	"github.com/codevat/runbox/internal/sandbox"
	"github.com/codevat/runbox/internal/store"
	"github.com/codevat/runbox/internal/stream"
)

const (
	// LabelProject tags every sandbox this service creates; the sweeper
	// scopes its cleanup to this label.
	LabelProject = "runbox.project"
	// LabelJobID ties a sandbox back to the job that owns it.
	LabelJobID = "runbox.job-id"

	// SourceFileName is the fixed name the submitted source is staged
	// under inside the sandbox.
	SourceFileName = "Main.java"

	workDir = "/app"

	finalizeAttempts = 3
	finalizeBackoff  = 200 * time.Millisecond

	// drainGrace bounds how long the supervisor waits for the attach
	// stream to reach EOF after the sandbox has exited.
	drainGrace = 3 * time.Second
)

type Engine struct {
	store  store.Store
	driver sandbox.Driver
	conf   config.SandboxConfig
	logger *zerolog.Logger

	// maxActive bounds concurrently executing jobs; 0 means unbounded.
	maxActive int64
	active    atomic.Int64
}

func New(st store.Store, driver sandbox.Driver, conf config.SandboxConfig, maxConcurrent int, logger *zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		driver:    driver,
		conf:      conf,
		maxActive: int64(maxConcurrent),
		logger:    logger,
	}
}

// Reserve claims an execution slot before a job record or sandbox exists.
// Callers that got a slot hand it to Run, which releases it when the
// supervisor finishes; callers that abandon the submission call Release
// themselves.
func (e *Engine) Reserve() bool {
	if e.maxActive <= 0 {
		return true
	}
	if e.active.Add(1) > e.maxActive {
		e.active.Add(-1)
		return false
	}
	return true
}

func (e *Engine) Release() {
	if e.maxActive <= 0 {
		return
	}
	e.active.Add(-1)
}

// Run executes a submitted job to completion in the background, releasing
// the reserved slot when done. Request cancellation does not reach the
// supervisor: once submitted, a job runs until it finishes or the deadline
// kills it.
func (e *Engine) Run(jobID string) {
	go func() {
		defer e.Release()
		if err := e.Execute(context.Background(), jobID); err != nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("job supervision failed")
		}
	}()
}

// Execute drives one job through its whole state machine. On return the
// job is no longer running and no sandbox labeled with its id is alive,
// unless the store itself failed (the startup sweeper reconciles those).
func (e *Engine) Execute(ctx context.Context, jobID string) error {
	j, err := e.store.GetJob(ctx, jobID, "")
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if j.Status != job.StatusNotStarted {
		return fmt.Errorf("job %s is %s, expected %s", jobID, j.Status, job.StatusNotStarted)
	}

	if err := e.store.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	archive, err := sandbox.BuildArchive(SourceFileName, j.Source, j.InputFiles)
	if err != nil {
		return e.finalizeError(ctx, jobID, "", err)
	}

	createStart := time.Now()
	sandboxID, err := e.driver.Create(ctx, sandbox.Spec{
		Image:       e.conf.Image,
		Cmd:         runCommand(j.Args),
		WorkingDir:  workDir,
		MemoryBytes: e.conf.MemoryLimitBytes,
		CPUShares:   e.conf.CPUShares,
		Labels: map[string]string{
			LabelProject: e.conf.ProjectLabel,
			LabelJobID:   jobID,
		},
	})
	if err != nil {
		return e.finalizeError(ctx, jobID, "", err)
	}
	metrics.SandboxCreationTime.Observe(float64(time.Since(createStart).Milliseconds()))

	if err := e.store.AttachSandbox(ctx, jobID, sandboxID); err != nil {
		// Storage failure: abort supervision, but never leak the sandbox.
		e.removeSandbox(sandboxID)
		return fmt.Errorf("failed to record sandbox id: %w", err)
	}

	if err := e.driver.Upload(ctx, sandboxID, archive, workDir); err != nil {
		return e.finalizeError(ctx, jobID, sandboxID, err)
	}

	outcome, err := e.supervise(ctx, jobID, sandboxID)
	if err != nil {
		return e.finalizeError(ctx, jobID, sandboxID, err)
	}

	if err := e.finalize(ctx, jobID, *outcome); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("could not persist job outcome")
	}
	e.removeSandbox(sandboxID)

	metrics.JobsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	metrics.JobDuration.Observe(float64(outcome.ExecutionMS))
	if outcome.PeakMemoryMB > 0 {
		metrics.PeakMemory.Observe(outcome.PeakMemoryMB)
	}
	return nil
}

// supervise covers the live phase: attach, sample, start, race the
// deadline against completion, then drain the observers. The attach stream
// opens before start so the first bytes of output are never lost.
func (e *Engine) supervise(ctx context.Context, jobID, sandboxID string) (*job.Outcome, error) {
	attach, err := e.driver.Attach(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	defer attach.Close()

	demux := stream.NewDemux(e.conf.OutputCapBytes)
	demuxDone := make(chan error, 1)
	go func() {
		demuxDone <- demux.Copy(attach)
	}()

	smp := sampler.New()
	samplerDone := make(chan struct{})
	statsStream, err := e.driver.Stats(ctx, sandboxID)
	if err != nil {
		// Telemetry is best-effort; the job still runs, peaks stay zero.
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("stats stream unavailable")
		close(samplerDone)
	} else {
		go func() {
			smp.Run(statsStream)
			close(samplerDone)
		}()
	}

	// The deadline is armed before start, so the measured window can never
	// begin ahead of the timer.
	var timedOut atomic.Bool
	deadline := time.Duration(e.conf.DeadlineMs) * time.Millisecond
	timer := time.AfterFunc(deadline, func() {
		timedOut.Store(true)
		e.logger.Info().Str("job_id", jobID).Msg("deadline elapsed, killing sandbox")
		if err := e.driver.Kill(context.Background(), sandboxID); err != nil {
			e.logger.Warn().Err(err).Str("job_id", jobID).Msg("deadline kill failed")
		}
	})
	defer timer.Stop()

	started := time.Now()
	if err := e.driver.Start(ctx, sandboxID); err != nil {
		timer.Stop()
		if statsStream != nil {
			statsStream.Close()
		}
		return nil, err
	}

	exitCode, waitErr := e.driver.Wait(ctx, sandboxID)
	executionMS := time.Since(started).Milliseconds()
	timer.Stop()

	// Stream close is the memory barrier: peaks and buffers are read only
	// after both readers have finished.
	if statsStream != nil {
		statsStream.Close()
	}
	<-samplerDone

	select {
	case <-demuxDone:
	case <-time.After(drainGrace):
		attach.Close()
		<-demuxDone
	}

	if waitErr != nil {
		return nil, waitErr
	}

	out := &job.Outcome{
		Stdout:       demux.Stdout(),
		Stderr:       demux.Stderr(),
		TimedOut:     timedOut.Load(),
		Crashed:      !timedOut.Load() && exitCode != 0,
		PeakMemoryMB: smp.PeakMemoryMB(),
		PeakCPUPct:   smp.PeakCPUPct(),
		ExecutionMS:  executionMS,
	}
	return out, nil
}

// finalizeError is the common failure funnel: record the job as crashed
// with the error text, then make sure the sandbox is gone.
func (e *Engine) finalizeError(ctx context.Context, jobID, sandboxID string, cause error) error {
	e.logger.Error().Err(cause).Str("job_id", jobID).Msg("job failed")

	err := e.finalize(ctx, jobID, job.Outcome{
		Crashed: true,
		Stderr:  []byte(cause.Error()),
	})
	if sandboxID != "" {
		e.removeSandbox(sandboxID)
	}
	metrics.JobsTotal.WithLabelValues("crashed").Inc()
	if err != nil {
		return fmt.Errorf("failed to finalize job after %q: %w", cause.Error(), err)
	}
	return nil
}

// finalize retries transient storage failures a few times; double
// finalization is not retried.
func (e *Engine) finalize(ctx context.Context, jobID string, out job.Outcome) error {
	var err error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		err = e.store.Finalize(ctx, jobID, out)
		if err == nil || errors.Is(err, store.ErrInvalidTransition) {
			return err
		}
		e.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("finalize failed, retrying")
		time.Sleep(time.Duration(attempt) * finalizeBackoff)
	}
	return err
}

func (e *Engine) removeSandbox(sandboxID string) {
	if err := e.driver.Remove(context.Background(), sandboxID, true); err != nil {
		e.logger.Warn().Err(err).Str("sandbox_id", sandboxID).Msg("failed to remove sandbox")
	}
}

// runCommand builds the compile-and-run shell line for the default Java
// profile. Arguments pass through single-quoted so the shell never
// interprets them.
func runCommand(args []string) []string {
	cmd := fmt.Sprintf("cd %s && javac %s && java Main", workDir, SourceFileName)
	for _, a := range args {
		cmd += " " + shellQuote(a)
	}
	return []string{"sh", "-c", cmd}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func outcomeLabel(out *job.Outcome) string {
	switch {
	case out.TimedOut:
		return "timed_out"
	case out.Crashed:
		return "crashed"
	default:
		return "success"
	}
}
