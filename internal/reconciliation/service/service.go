// Package service is the reconciliation engine's entry point: job lifecycle, progress queries and review.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reconciliation-engine/internal/common/config"
	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/observability"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/chunk"
	"reconciliation-engine/internal/reconciliation/matching"
	"reconciliation-engine/internal/reconciliation/progress"
	"reconciliation-engine/internal/reconciliation/scheduler"
	"reconciliation-engine/internal/reconciliation/source"
	"reconciliation-engine/internal/reconciliation/store"
)

const (
	defaultConfidenceThreshold = 0.8
	finalizeTimeout            = 30 * time.Second
)

// SnapshotReader serves the last progress event stored for a job, nil when none is stored.
type SnapshotReader interface {
	Snapshot(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error)
}

// Dependencies are the collaborators wired into the service. Sink and Snapshots are optional.
type Dependencies struct {
	Store     store.Store
	Records   source.RecordSource
	Sink      progress.Sink
	Snapshots SnapshotReader
	Telemetry *observability.Observability
}

type CreateJobRequest struct {
	ProjectID           uuid.UUID        `json:"project_id"`
	SourceAID           uuid.UUID        `json:"source_a_id"`
	SourceBID           uuid.UUID        `json:"source_b_id"`
	Name                string           `json:"name"`
	Description         *string          `json:"description,omitempty"`
	CreatedBy           *uuid.UUID       `json:"created_by,omitempty"`
	RuleSet             matching.RuleSet `json:"rule_set"`
	ConfidenceThreshold *float64         `json:"confidence_threshold,omitempty"`
}

// JobDetailsUpdate edits the descriptive fields of a job that has not started.
type JobDetailsUpdate struct {
	Name                *string  `json:"name,omitempty"`
	Description         *string  `json:"description,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

type Service struct {
	store     store.Store
	records   source.RecordSource
	sink      progress.Sink
	snapshots SnapshotReader
	telemetry *observability.Observability

	jobs   *scheduler.JobProcessor
	chunks *chunk.Processor

	defaultThreshold float64
	stuckAfter       time.Duration

	wg      sync.WaitGroup
	closing atomic.Bool
	now     func() time.Time
	logger  logger.Logger
}

func New(cfg config.ReconciliationConfig, deps Dependencies, log logger.Logger) *Service {
	log = log.WithFields(map[string]interface{}{"component": "reconciliation_service"})

	sink := deps.Sink
	if sink == nil {
		sink = progress.Discard{}
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = observability.NewNoop()
	}
	threshold := cfg.DefaultConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultConfidenceThreshold
	}
	jobTimeout := time.Duration(cfg.JobTimeoutSeconds) * time.Second

	return &Service{
		store:     deps.Store,
		records:   deps.Records,
		sink:      sink,
		snapshots: deps.Snapshots,
		telemetry: telemetry,
		jobs: scheduler.NewJobProcessor(scheduler.Options{
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			ProgressCeiling:   cfg.ProgressCeiling,
			JobTimeout:        jobTimeout,
		}, log),
		chunks: chunk.NewProcessor(deps.Records, deps.Store, chunk.Options{
			ChunkSize:       cfg.ChunkSize,
			ProgressCeiling: cfg.ProgressCeiling,
		}, log),
		defaultThreshold: threshold,
		stuckAfter:       jobTimeout,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           log,
	}
}

// CreateJob validates the request, stores the job as queued and places it on the admission queue.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*models.ReconciliationJob, error) {
	if err := validateCreateJob(req); err != nil {
		return nil, err
	}

	threshold := s.defaultThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}

	now := s.now()
	job := &models.ReconciliationJob{
		ID:                  uuid.New(),
		ProjectID:           req.ProjectID,
		SourceAID:           req.SourceAID,
		SourceBID:           req.SourceBID,
		Name:                req.Name,
		Description:         req.Description,
		CreatedBy:           req.CreatedBy,
		RuleSet:             req.RuleSet,
		ConfidenceThreshold: threshold,
		Status:              models.JobQueued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.jobs.EnqueueJob(job.ID)

	s.logger.Info("job created", map[string]interface{}{
		"jobId":     job.ID.String(),
		"projectId": job.ProjectID.String(),
		"rules":     len(job.RuleSet),
		"threshold": threshold,
	})
	return job, nil
}

func validateCreateJob(req CreateJobRequest) error {
	res, err := createJobValidator.ValidateValue(req)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	ids := []struct {
		field string
		id    uuid.UUID
	}{{"project_id", req.ProjectID}, {"source_a_id", req.SourceAID}, {"source_b_id", req.SourceBID}}
	for _, f := range ids {
		if f.id == uuid.Nil {
			return apperrors.NewValidationError("missing identifier", f.field+" is required")
		}
	}
	if err := req.RuleSet.Validate(); err != nil {
		return err
	}
	return checkThreshold(req.ConfidenceThreshold)
}

func checkThreshold(t *float64) error {
	if t != nil && (*t < 0 || *t > 1) {
		return apperrors.NewValidationError("confidence_threshold must be within [0,1]", fmt.Sprintf("got %v", *t))
	}
	return nil
}

// UpdateJobDetails edits name, description or threshold while the job is still queued.
func (s *Service) UpdateJobDetails(ctx context.Context, jobID uuid.UUID, upd JobDetailsUpdate) (*models.ReconciliationJob, error) {
	if err := checkThreshold(upd.ConfidenceThreshold); err != nil {
		return nil, err
	}
	if upd.Name != nil && *upd.Name == "" {
		return nil, apperrors.NewValidationError("name must not be empty", jobID.String())
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobQueued || s.jobs.IsActive(jobID) {
		return nil, apperrors.NewValidationError("job can only be edited while queued", string(job.Status))
	}
	return s.store.UpdateJob(ctx, jobID, models.JobUpdate{
		Name:                upd.Name,
		Description:         upd.Description,
		ConfidenceThreshold: upd.ConfidenceThreshold,
	})
}

// DeleteJob removes a job and its results. Running jobs must be stopped first.
func (s *Service) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	if s.jobs.IsActive(jobID) {
		return apperrors.NewValidationError("cannot delete a running job", jobID.String())
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.jobs.RemoveQueued(jobID)
	s.logger.Info("job deleted", map[string]interface{}{"jobId": jobID.String()})
	return nil
}

func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ReconciliationJob, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) ListProjectJobs(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error) {
	return s.store.ListProjectJobs(ctx, projectID)
}

// ActiveJobs returns the live progress of every running job.
func (s *Service) ActiveJobs() []models.JobProgress {
	now := s.now()
	active := s.jobs.ActiveJobs()
	out := make([]models.JobProgress, len(active))
	for i, st := range active {
		out[i] = st.ToProgress(now)
	}
	return out
}

func (s *Service) QueuedJobs() []uuid.UUID {
	return s.jobs.QueuedJobs()
}

// GetJobProgress prefers the live status, then a stored snapshot, then the persisted job.
func (s *Service) GetJobProgress(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	if st, ok := s.jobs.GetJobStatus(jobID); ok {
		p := st.ToProgress(s.now())
		return &p, nil
	}

	if s.snapshots != nil {
		snap, err := s.snapshots.Snapshot(ctx, jobID)
		switch {
		case err != nil:
			s.logger.Warn("progress snapshot unavailable", map[string]interface{}{
				"jobId": jobID.String(),
				"error": err,
			})
		case snap != nil:
			return snap, nil
		}
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	p := models.JobProgressFromJob(job)
	return &p, nil
}
