package engine

import (
	"context"
	"fmt"

	"github.com/codevat/runbox/internal/job"
	"github.com/codevat/runbox/internal/metrics"
)

// Sweep reconciles state left behind by a previous process: every sandbox
// carrying the project label is force-removed, and every job still marked
// running is finalized as crashed. Runs before the server accepts
// submissions.
func (e *Engine) Sweep(ctx context.Context) error {
	ids, err := e.driver.List(ctx, LabelProject, e.conf.ProjectLabel)
	if err != nil {
		return fmt.Errorf("failed to enumerate leftover sandboxes: %w", err)
	}
	for _, id := range ids {
		if err := e.driver.Remove(ctx, id, true); err != nil {
			e.logger.Error().Err(err).Str("sandbox_id", id).Msg("sweeper could not remove sandbox")
			continue
		}
		metrics.SweptSandboxes.Inc()
		e.logger.Info().Str("sandbox_id", id).Msg("swept leftover sandbox")
	}

	running, err := e.store.RunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}
	for _, j := range running {
		err := e.store.Finalize(ctx, j.ID, job.Outcome{
			Crashed: true,
			Stderr:  []byte("service restarted while job was executing"),
		})
		if err != nil {
			e.logger.Error().Err(err).Str("job_id", j.ID).Msg("sweeper could not finalize job")
			continue
		}
		e.logger.Info().Str("job_id", j.ID).Msg("finalized orphaned job")
	}
	return nil
}
