// Package scheduler bounds how many reconciliation jobs run at once and tracks their live status.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
)

const (
	DefaultMaxConcurrentJobs = 5
	DefaultProgressCeiling   = 80
)

type Options struct {
	MaxConcurrentJobs int
	// ProgressCeiling caps the percentage reported while records are still being matched.
	ProgressCeiling int
	// JobTimeout bounds each job's context; zero disables it.
	JobTimeout time.Duration
}

type entry struct {
	status models.JobStatus
	cancel context.CancelFunc
}

// JobProcessor owns the active-job table and the admission queue. All access goes through its methods.
type JobProcessor struct {
	mu     sync.RWMutex
	opts   Options
	active map[uuid.UUID]*entry
	queue  []uuid.UUID
	now    func() time.Time
	logger logger.Logger
}

func NewJobProcessor(opts Options, log logger.Logger) *JobProcessor {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if opts.ProgressCeiling <= 0 || opts.ProgressCeiling >= 100 {
		opts.ProgressCeiling = DefaultProgressCeiling
	}
	return &JobProcessor{
		opts:   opts,
		active: make(map[uuid.UUID]*entry),
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

func (p *JobProcessor) MaxConcurrentJobs() int { return p.opts.MaxConcurrentJobs }

func (p *JobProcessor) ProgressCeiling() int { return p.opts.ProgressCeiling }

// EnqueueJob appends jobID to the admission queue. It reports false if the job is already queued or active.
func (p *JobProcessor) EnqueueJob(jobID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.active[jobID]; running {
		return false
	}
	for _, id := range p.queue {
		if id == jobID {
			return false
		}
	}
	p.queue = append(p.queue, jobID)
	metrics.JobsQueued.Set(float64(len(p.queue)))
	return true
}

// Dequeue pops the oldest queued job.
func (p *JobProcessor) Dequeue() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return uuid.Nil, false
	}
	id := p.queue[0]
	p.queue = p.queue[1:]
	metrics.JobsQueued.Set(float64(len(p.queue)))
	return id, true
}

// RemoveQueued drops jobID from the queue, reporting whether it was there.
func (p *JobProcessor) RemoveQueued(jobID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeQueuedLocked(jobID)
}

func (p *JobProcessor) removeQueuedLocked(jobID uuid.UUID) bool {
	for i, id := range p.queue {
		if id == jobID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			metrics.JobsQueued.Set(float64(len(p.queue)))
			return true
		}
	}
	return false
}

func (p *JobProcessor) QueuedJobs() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]uuid.UUID, len(p.queue))
	copy(out, p.queue)
	return out
}

func (p *JobProcessor) CanProcessJob() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active) < p.opts.MaxConcurrentJobs
}

// StartJob admits a job if a slot is free. The capacity check and the insert happen under one lock.
// On Capacity errors the job keeps its place in the queue.
func (p *JobProcessor) StartJob(ctx context.Context, seed models.JobStatus) (*JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, running := p.active[seed.JobID]; running {
		return nil, apperrors.NewValidationError("job is already running", seed.JobID.String())
	}
	if len(p.active) >= p.opts.MaxConcurrentJobs {
		metrics.JobsRejected.Inc()
		return nil, apperrors.NewCapacityError(len(p.active), p.opts.MaxConcurrentJobs)
	}

	var jctx context.Context
	var cancel context.CancelFunc
	if p.opts.JobTimeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
	} else {
		jctx, cancel = context.WithCancel(ctx)
	}

	now := p.now()
	status := seed
	status.State = models.JobProcessing
	if status.CurrentPhase == "" {
		status.CurrentPhase = models.PhaseInitializing
	}
	if status.StartedAt.IsZero() {
		status.StartedAt = now
	}
	status.UpdatedAt = now

	p.active[seed.JobID] = &entry{status: status, cancel: cancel}
	p.removeQueuedLocked(seed.JobID)

	metrics.JobsStarted.Inc()
	metrics.JobsActive.Set(float64(len(p.active)))
	p.logger.Info("job admitted", map[string]interface{}{
		"jobId":  seed.JobID.String(),
		"active": len(p.active),
		"limit":  p.opts.MaxConcurrentJobs,
	})

	return &JobHandle{p: p, jobID: seed.JobID, ctx: jctx}, nil
}

// StopJob cancels an active job and releases its slot. It returns the final status.
func (p *JobProcessor) StopJob(jobID uuid.UUID) (models.JobStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.active[jobID]
	if !ok {
		return models.JobStatus{}, false
	}
	e.cancel()
	delete(p.active, jobID)
	metrics.JobsActive.Set(float64(len(p.active)))

	e.status.State = models.JobCancelled
	e.status.CurrentPhase = models.PhaseCancelled
	e.status.Message = "Job cancelled"
	e.status.UpdatedAt = p.now()
	return e.status, true
}

// CompleteJob releases the slot of a job whose terminal state has been persisted.
func (p *JobProcessor) CompleteJob(jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.active[jobID]; ok {
		e.cancel()
		delete(p.active, jobID)
		metrics.JobsActive.Set(float64(len(p.active)))
	}
}

func (p *JobProcessor) IsActive(jobID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.active[jobID]
	return ok
}

func (p *JobProcessor) GetJobStatus(jobID uuid.UUID) (models.JobStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.active[jobID]
	if !ok {
		return models.JobStatus{}, false
	}
	return e.status, true
}

// ActiveJobs returns a snapshot of the active table, oldest first.
func (p *JobProcessor) ActiveJobs() []models.JobStatus {
	p.mu.RLock()
	out := make([]models.JobStatus, 0, len(p.active))
	for _, e := range p.active {
		out = append(out, e.status)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StuckJobs lists active jobs whose status has not changed for longer than timeout.
func (p *JobProcessor) StuckJobs(timeout time.Duration) []models.JobStatus {
	cutoff := p.now().Add(-timeout)
	var out []models.JobStatus
	for _, s := range p.ActiveJobs() {
		if s.UpdatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// StopAll cancels every active job; used on shutdown.
func (p *JobProcessor) StopAll() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(p.active))
	for id, e := range p.active {
		e.cancel()
		ids = append(ids, id)
	}
	return ids
}

func (p *JobProcessor) updateProgress(jobID uuid.UUID, ev models.JobProgress) (models.JobStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.active[jobID]
	if !ok {
		return models.JobStatus{}, false
	}
	s := &e.status

	if ev.TotalRecords != nil {
		total := *ev.TotalRecords
		s.TotalRecords = &total
	}
	if ev.ProcessedRecords >= s.Processed {
		s.Processed = ev.ProcessedRecords
		s.Matched = ev.MatchedRecords
		s.Unmatched = ev.UnmatchedRecords
	}
	if ev.Status != "" {
		s.State = ev.Status
	}
	if ev.CurrentPhase != "" {
		s.CurrentPhase = ev.CurrentPhase
	}
	s.Message = ev.Message

	pct := ev.Progress
	if matchingPhase(s.CurrentPhase) && !s.State.IsTerminal() && s.TotalRecords != nil && *s.TotalRecords > 0 {
		pct = s.Processed * 100 / *s.TotalRecords
		if pct > p.opts.ProgressCeiling {
			pct = p.opts.ProgressCeiling
		}
	}
	if pct > 100 {
		pct = 100
	}
	if pct > s.Progress {
		s.Progress = pct
	}
	s.UpdatedAt = p.now()
	return *s, true
}

// matchingPhase is true while records are still being compared; later phases report their own percentage.
func matchingPhase(phase string) bool {
	return phase != models.PhaseSaving && !models.TerminalPhase(phase)
}

// JobHandle is the running job's view of its scheduler slot.
type JobHandle struct {
	p     *JobProcessor
	jobID uuid.UUID
	ctx   context.Context
}

func (h *JobHandle) JobID() uuid.UUID { return h.jobID }

// Context is cancelled by StopJob, by the job timeout and when the slot is released.
func (h *JobHandle) Context() context.Context { return h.ctx }

// UpdateProgress folds ev into the live status and returns it. It reports false once the job has
// left the active table.
func (h *JobHandle) UpdateProgress(ev models.JobProgress) (models.JobStatus, bool) {
	return h.p.updateProgress(h.jobID, ev)
}
