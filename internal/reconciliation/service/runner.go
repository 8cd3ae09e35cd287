// internal/reconciliation/service/runner.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/chunk"
	"reconciliation-engine/internal/reconciliation/scheduler"
)

const (
	savingProgress   = 90
	completeProgress = 100
)

// StartJob admits a queued job and runs it in the background. When no slot is free the job
// stays queued and a Capacity error is returned.
func (s *Service) StartJob(ctx context.Context, jobID uuid.UUID) (models.JobStatus, error) {
	if s.closing.Load() {
		return models.JobStatus{}, apperrors.NewValidationError("service is shutting down", jobID.String())
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return models.JobStatus{}, err
	}
	if job.Status != models.JobQueued {
		return models.JobStatus{}, apperrors.NewInvalidStateError("job", jobID.String(), string(job.Status), string(models.JobProcessing))
	}

	handle, err := s.jobs.StartJob(context.WithoutCancel(ctx), models.JobStatus{
		JobID:        job.ID,
		ProjectID:    job.ProjectID,
		CurrentPhase: models.PhaseInitializing,
		Message:      "Initializing job",
	})
	if err != nil {
		if apperrors.IsCapacity(err) {
			s.jobs.EnqueueJob(jobID)
		}
		return models.JobStatus{}, err
	}

	now := s.now()
	processing, zero := models.JobProcessing, 0
	stored, err := s.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &processing, StartedAt: &now, Progress: &zero})
	if err != nil {
		s.jobs.CompleteJob(jobID)
		return models.JobStatus{}, err
	}

	status, _ := handle.UpdateProgress(models.JobProgress{
		Status:       models.JobProcessing,
		CurrentPhase: models.PhaseInitializing,
		Message:      "Initializing job",
	})
	s.sink.Publish(ctx, status.ToProgress(now))

	s.logger.Info("job started", map[string]interface{}{
		"jobId":  jobID.String(),
		"resume": stored.ProcessedOffset,
	})

	s.wg.Add(1)
	go s.run(handle, stored)
	return status, nil
}

func (s *Service) run(handle *scheduler.JobHandle, job *models.ReconciliationJob) {
	defer s.wg.Done()

	ctx, span := s.telemetry.StartSpan(handle.Context(), "reconciliation.job",
		attribute.String("job.id", job.ID.String()),
		attribute.String("project.id", job.ProjectID.String()),
	)
	defer span.End()

	started := s.now()
	reporter := chunk.ReporterFunc(func(ctx context.Context, sum chunk.Summary, ev models.JobProgress) {
		pctx := context.WithoutCancel(ctx)
		status, ok := handle.UpdateProgress(ev)
		if !ok {
			// Stopped mid-save. The chunk is committed; counters and offset follow it.
			if _, err := s.store.UpdateJob(pctx, job.ID, models.JobUpdate{
				TotalRecords:     &sum.Total,
				ProcessedRecords: &sum.Processed,
				MatchedRecords:   &sum.Matched,
				UnmatchedRecords: &sum.Unmatched,
				ProcessedOffset:  &sum.Offset,
			}); err != nil {
				s.logger.Warn("failed to persist counters of stopped job", map[string]interface{}{
					"jobId": job.ID.String(),
					"error": err,
				})
			}
			return
		}
		progress := status.Progress
		if _, err := s.store.UpdateJob(pctx, job.ID, models.JobUpdate{
			Progress:         &progress,
			TotalRecords:     &sum.Total,
			ProcessedRecords: &sum.Processed,
			MatchedRecords:   &sum.Matched,
			UnmatchedRecords: &sum.Unmatched,
			ProcessedOffset:  &sum.Offset,
		}); err != nil {
			s.logger.Warn("failed to persist job progress", map[string]interface{}{
				"jobId": job.ID.String(),
				"error": err,
			})
		}
		s.sink.Publish(pctx, status.ToProgress(s.now()))
	})

	sum, err := s.chunks.Run(ctx, job, reporter, job.ProcessedOffset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.finish(ctx, handle, job, sum, err, started)
}

// finish persists the terminal state of a run and releases its slot.
func (s *Service) finish(ctx context.Context, handle *scheduler.JobHandle, job *models.ReconciliationJob, sum chunk.Summary, runErr error, started time.Time) {
	if !s.jobs.IsActive(job.ID) {
		// StopJob or the stuck-job monitor already recorded the outcome.
		return
	}
	defer s.jobs.CompleteJob(job.ID)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	log := s.logger.WithFields(map[string]interface{}{"jobId": job.ID.String()})
	counts := models.JobProgress{
		ProcessedRecords: sum.Processed,
		MatchedRecords:   sum.Matched,
		UnmatchedRecords: sum.Unmatched,
	}

	var final models.JobState
	var message string
	var errMsg *string
	switch {
	case runErr == nil:
		saving := counts
		saving.CurrentPhase = models.PhaseSaving
		saving.Progress = savingProgress
		saving.Message = "Saving results"
		if st, ok := handle.UpdateProgress(saving); ok {
			s.sink.Publish(pctx, st.ToProgress(s.now()))
		}
		final, message = models.JobCompleted, "Reconciliation completed"
	case errors.Is(runErr, context.DeadlineExceeded):
		final, message = models.JobFailed, "job timed out"
		errMsg = &message
	case errors.Is(runErr, context.Canceled):
		final, message = models.JobCancelled, "Job cancelled"
	default:
		final, message = models.JobFailed, runErr.Error()
		errMsg = &message
	}

	now := s.now()
	upd := models.JobUpdate{
		Status:           &final,
		TotalRecords:     &sum.Total,
		ProcessedRecords: &sum.Processed,
		MatchedRecords:   &sum.Matched,
		UnmatchedRecords: &sum.Unmatched,
		ProcessedOffset:  &sum.Offset,
		ErrorMessage:     errMsg,
		CompletedAt:      &now,
	}
	if final == models.JobCompleted {
		full := completeProgress
		upd.Progress = &full
	}
	if _, err := s.store.UpdateJob(pctx, job.ID, upd); err != nil {
		log.Error("failed to persist final job state", map[string]interface{}{
			"status": string(final),
			"error":  err,
		})
	}

	ev := counts
	ev.Status = final
	ev.CurrentPhase = string(final)
	ev.Message = message
	if final == models.JobCompleted {
		ev.Progress = completeProgress
	}
	if st, ok := handle.UpdateProgress(ev); ok {
		s.sink.Publish(pctx, st.ToProgress(now))
	}

	s.recordOutcome(pctx, final, now.Sub(started), sum.Matched)
	fields := map[string]interface{}{
		"status":    string(final),
		"processed": sum.Processed,
		"matched":   sum.Matched,
		"unmatched": sum.Unmatched,
		"offset":    sum.Offset,
		"duration":  now.Sub(started).String(),
	}
	if final == models.JobFailed {
		fields["error"] = runErr
		log.Error("job failed", fields)
		return
	}
	log.Info("job finished", fields)
}

func (s *Service) recordOutcome(ctx context.Context, state models.JobState, elapsed time.Duration, matched int) {
	metrics.JobsFinished.WithLabelValues(string(state)).Inc()
	metrics.JobDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
	s.telemetry.RecordJobProcessed(ctx, string(state))
	s.telemetry.RecordJobDuration(ctx, elapsed, string(state))
	s.telemetry.RecordMatched(ctx, matched)
}

// StopJob cancels a running or queued job. Terminal jobs cannot be stopped.
func (s *Service) StopJob(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	if st, ok := s.jobs.StopJob(jobID); ok {
		return s.persistStopped(ctx, st, models.JobCancelled, nil)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobQueued {
		return nil, apperrors.NewInvalidStateError("job", jobID.String(), string(job.Status), string(models.JobCancelled))
	}
	s.jobs.RemoveQueued(jobID)

	cancelled, now := models.JobCancelled, s.now()
	stored, err := s.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: &cancelled, CompletedAt: &now})
	if err != nil {
		return nil, err
	}
	metrics.JobsFinished.WithLabelValues(string(cancelled)).Inc()
	p := models.JobProgressFromJob(stored)
	p.Message = "Job cancelled"
	s.sink.Publish(ctx, p)
	return &p, nil
}

// persistStopped records the outcome of a job removed from the active table by StopJob or the monitor.
func (s *Service) persistStopped(ctx context.Context, st models.JobStatus, state models.JobState, errMsg *string) (*models.JobProgress, error) {
	now := s.now()
	st.State = state
	st.CurrentPhase = string(state)
	if errMsg != nil {
		st.Message = *errMsg
	}

	// Counters are written by the run's reporter.
	upd := models.JobUpdate{
		Status:       &state,
		ErrorMessage: errMsg,
		CompletedAt:  &now,
	}
	if _, err := s.store.UpdateJob(ctx, st.JobID, upd); err != nil {
		return nil, err
	}

	s.recordOutcome(ctx, state, now.Sub(st.StartedAt), st.Matched)
	p := st.ToProgress(now)
	s.sink.Publish(ctx, p)
	s.logger.Info("job stopped", map[string]interface{}{
		"jobId":  st.JobID.String(),
		"status": string(state),
	})
	return &p, nil
}

// StartQueuedJobs admits queued jobs in FIFO order while capacity remains.
func (s *Service) StartQueuedJobs(ctx context.Context) []uuid.UUID {
	var started []uuid.UUID
	for _, id := range s.jobs.QueuedJobs() {
		if !s.jobs.CanProcessJob() {
			break
		}
		_, err := s.StartJob(ctx, id)
		switch {
		case err == nil:
			started = append(started, id)
		case apperrors.IsCapacity(err):
			return started
		default:
			s.jobs.RemoveQueued(id)
			s.logger.Warn("dropping job from queue", map[string]interface{}{
				"jobId": id.String(),
				"error": err,
			})
		}
	}
	return started
}

// Recover rebuilds in-process state after a restart: queued jobs are re-enqueued, jobs left
// processing by a previous process are failed with their committed offset kept.
func (s *Service) Recover(ctx context.Context) error {
	queued, err := s.store.ListJobsByStatus(ctx, models.JobQueued)
	if err != nil {
		return err
	}
	for _, j := range queued {
		s.jobs.EnqueueJob(j.ID)
	}

	orphaned, err := s.store.ListJobsByStatus(ctx, models.JobProcessing)
	if err != nil {
		return err
	}
	failed, msg := models.JobFailed, "job interrupted by service restart"
	for _, j := range orphaned {
		if s.jobs.IsActive(j.ID) {
			continue
		}
		now := s.now()
		if _, err := s.store.UpdateJob(ctx, j.ID, models.JobUpdate{Status: &failed, ErrorMessage: &msg, CompletedAt: &now}); err != nil {
			return err
		}
	}

	s.logger.Info("recovered job state", map[string]interface{}{
		"queued":   len(queued),
		"orphaned": len(orphaned),
	})
	return nil
}

// MonitorStuckJobs fails running jobs whose progress has not moved for the job timeout.
// It blocks until ctx is done.
func (s *Service) MonitorStuckJobs(ctx context.Context, interval time.Duration) {
	if s.stuckAfter <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.failStuckJobs(ctx)
		}
	}
}

func (s *Service) failStuckJobs(ctx context.Context) {
	for _, st := range s.jobs.StuckJobs(s.stuckAfter) {
		stopped, ok := s.jobs.StopJob(st.JobID)
		if !ok {
			continue
		}
		msg := fmt.Sprintf("job stalled: no progress for %s", s.stuckAfter)
		if _, err := s.persistStopped(ctx, stopped, models.JobFailed, &msg); err != nil {
			s.logger.Error("failed to fail stuck job", map[string]interface{}{
				"jobId": st.JobID.String(),
				"error": err,
			})
		}
	}
}

// Shutdown cancels running jobs and waits for their loops to record a final state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	stopped := s.jobs.StopAll()
	if len(stopped) > 0 {
		s.logger.Info("cancelling running jobs", map[string]interface{}{"count": len(stopped)})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
