// Package store persists reconciliation jobs and their results and implements the review workflow.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/models"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Store is the persistence collaborator of the reconciliation service.
type Store interface {
	CreateJob(ctx context.Context, job *models.ReconciliationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
	// UpdateJob applies a partial update and returns the stored job. A job in a terminal state
	// keeps that state.
	UpdateJob(ctx context.Context, id uuid.UUID, upd models.JobUpdate) (*models.ReconciliationJob, error)
	ListProjectJobs(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error)
	ListJobsByStatus(ctx context.Context, status models.JobState) ([]models.ReconciliationJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// SaveResults stores one chunk of results atomically.
	SaveResults(ctx context.Context, jobID uuid.UUID, results []models.ReconciliationResult) error
	GetResults(ctx context.Context, jobID uuid.UUID, page, perPage int) (*models.Page[models.ReconciliationResult], error)
	BatchResolve(ctx context.Context, resolves []models.MatchResolve, reviewedBy string) (*models.BatchResolveResult, error)
	UpdateResult(ctx context.Context, id uuid.UUID, upd models.ResultUpdate) (*models.ReconciliationResult, error)
	JobStatistics(ctx context.Context, jobID uuid.UUID) (*models.JobStatistics, error)
}

// NormalizePage clamps pagination input: page floors at 1, perPage defaults to 20 within [1,100].
func NormalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return page, perPage
}

func checkJobTransition(job *models.ReconciliationJob, upd models.JobUpdate) error {
	if upd.Status == nil {
		return nil
	}
	if !job.Status.CanTransitionTo(*upd.Status) {
		return apperrors.NewInvalidStateError("job", job.ID.String(), string(job.Status), string(*upd.Status))
	}
	return nil
}

func validateConfidence(c *float64) error {
	if c != nil && (*c < 0 || *c > 1) {
		return apperrors.NewValidationError("confidence_score must be within [0,1]", fmt.Sprintf("got %v", *c))
	}
	return nil
}

func checkResultUpdate(res *models.ReconciliationResult, upd models.ResultUpdate) error {
	if err := validateConfidence(upd.ConfidenceScore); err != nil {
		return err
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return apperrors.NewValidationError("unknown result status", string(*upd.Status))
		}
		if !res.Status.CanTransitionTo(*upd.Status) {
			return apperrors.NewInvalidStateError("match", res.ID.String(), string(res.Status), string(*upd.Status))
		}
	}
	return nil
}

func applyResultUpdate(res *models.ReconciliationResult, upd models.ResultUpdate) {
	if upd.Status != nil {
		res.Status = *upd.Status
	}
	if upd.ConfidenceScore != nil {
		v := models.RoundConfidence(*upd.ConfidenceScore)
		res.ConfidenceScore = &v
	}
	if upd.ReviewedBy != nil {
		res.ReviewedBy = upd.ReviewedBy
	}
	if upd.Notes != nil {
		res.Notes = upd.Notes
	}
}

// resolveOutcome is the per-item decision shared by both stores.
func resolveOutcome(item models.MatchResolve, current *models.ReconciliationResult) (models.ResultStatus, string) {
	target, ok := models.ActionStatus(item.Action)
	if !ok {
		return "", fmt.Sprintf("invalid action '%s' for match %s", item.Action, item.MatchID)
	}
	if current == nil {
		return "", fmt.Sprintf("match %s not found", item.MatchID)
	}
	if !current.Status.Reviewable() {
		return "", fmt.Sprintf("match %s is already %s", item.MatchID, current.Status)
	}
	return target, ""
}

func countResolved(out *models.BatchResolveResult, status models.ResultStatus) {
	if status == models.ResultApproved {
		out.ApprovedCount++
	} else {
		out.RejectedCount++
	}
}
