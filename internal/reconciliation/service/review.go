// internal/reconciliation/service/review.go
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
)

// GetResults returns one page of a job's results, best matches first.
func (s *Service) GetResults(ctx context.Context, jobID uuid.UUID, page, perPage int) (*models.Page[models.ReconciliationResult], error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.GetResults(ctx, jobID, page, perPage)
}

// GetLeanResults is GetResults reduced to {id, confidence, status} per item.
func (s *Service) GetLeanResults(ctx context.Context, jobID uuid.UUID, page, perPage int) (*models.Page[models.LeanResult], error) {
	full, err := s.GetResults(ctx, jobID, page, perPage)
	if err != nil {
		return nil, err
	}
	lean := &models.Page[models.LeanResult]{
		Items:   make([]models.LeanResult, len(full.Items)),
		Total:   full.Total,
		Page:    full.Page,
		PerPage: full.PerPage,
	}
	for i, r := range full.Items {
		lean.Items[i] = r.Lean()
	}
	return lean, nil
}

// BatchResolve approves or rejects several matches in one transaction. Items that cannot be
// applied are skipped and reported in the result's Errors.
func (s *Service) BatchResolve(ctx context.Context, jobID uuid.UUID, req models.BatchResolveRequest, reviewedBy string) (*models.BatchResolveResult, error) {
	ctx, span := s.telemetry.StartSpan(ctx, "reconciliation.batch_resolve",
		attribute.String("job.id", jobID.String()),
		attribute.Int("resolve.count", len(req.Resolves)),
	)
	defer span.End()

	if strings.TrimSpace(reviewedBy) == "" {
		return nil, apperrors.NewValidationError("reviewer is required", jobID.String())
	}
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	if len(req.Resolves) == 0 {
		return &models.BatchResolveResult{Errors: []string{}}, nil
	}

	res, err := s.store.BatchResolve(ctx, req.Resolves, reviewedBy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.ReviewActions.WithLabelValues(models.ActionApprove).Add(float64(res.ApprovedCount))
	metrics.ReviewActions.WithLabelValues(models.ActionReject).Add(float64(res.RejectedCount))
	span.SetAttributes(
		attribute.Int("resolve.approved", res.ApprovedCount),
		attribute.Int("resolve.rejected", res.RejectedCount),
		attribute.Int("resolve.skipped", len(res.Errors)),
	)
	s.logger.Info("batch resolve applied", map[string]interface{}{
		"jobId":      jobID.String(),
		"reviewedBy": reviewedBy,
		"approved":   res.ApprovedCount,
		"rejected":   res.RejectedCount,
		"skipped":    len(res.Errors),
	})
	return res, nil
}

// UpdateMatch applies a partial update to one result.
func (s *Service) UpdateMatch(ctx context.Context, matchID uuid.UUID, upd models.ResultUpdate) (*models.ReconciliationResult, error) {
	res, err := s.store.UpdateResult(ctx, matchID, upd)
	if err != nil {
		return nil, err
	}
	if upd.Status != nil {
		switch *upd.Status {
		case models.ResultApproved:
			metrics.ReviewActions.WithLabelValues(models.ActionApprove).Inc()
		case models.ResultRejected:
			metrics.ReviewActions.WithLabelValues(models.ActionReject).Inc()
		}
	}
	return res, nil
}

func (s *Service) JobStatistics(ctx context.Context, jobID uuid.UUID) (*models.JobStatistics, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.JobStatistics(ctx, jobID)
}
