// internal/models/reconciliation.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/reconciliation/matching"
)

// JobState is the persisted lifecycle state of a reconciliation job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransitionTo encodes queued -> processing -> {completed, failed, cancelled}.
// A queued job may also be cancelled or failed before it ever runs.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s == next {
		return !s.IsTerminal()
	}
	switch s {
	case JobQueued:
		return next == JobProcessing || next == JobCancelled || next == JobFailed
	case JobProcessing:
		return next.IsTerminal()
	}
	return false
}

// ResultStatus is the review state of a reconciliation result.
type ResultStatus string

const (
	ResultPending   ResultStatus = "pending"
	ResultApproved  ResultStatus = "approved"
	ResultRejected  ResultStatus = "rejected"
	ResultUnmatched ResultStatus = "unmatched"
)

func (s ResultStatus) Valid() bool {
	switch s {
	case ResultPending, ResultApproved, ResultRejected, ResultUnmatched:
		return true
	}
	return false
}

// Reviewable states are the ones a reviewer may still approve or reject.
func (s ResultStatus) Reviewable() bool {
	return s == ResultPending || s == ResultUnmatched
}

// CanTransitionTo allows re-applying the current status so single updates stay idempotent.
func (s ResultStatus) CanTransitionTo(next ResultStatus) bool {
	if s == next {
		return true
	}
	return s.Reviewable() && (next == ResultApproved || next == ResultRejected)
}

type ReconciliationJob struct {
	ID                  uuid.UUID        `json:"id"`
	ProjectID           uuid.UUID        `json:"project_id"`
	SourceAID           uuid.UUID        `json:"source_a_id"`
	SourceBID           uuid.UUID        `json:"source_b_id"`
	Name                string           `json:"name"`
	Description         *string          `json:"description,omitempty"`
	CreatedBy           *uuid.UUID       `json:"created_by,omitempty"`
	RuleSet             matching.RuleSet `json:"rule_set"`
	ConfidenceThreshold float64          `json:"confidence_threshold"`
	Status              JobState         `json:"status"`
	Progress            int              `json:"progress"`
	TotalRecords        int              `json:"total_records"`
	ProcessedRecords    int              `json:"processed_records"`
	MatchedRecords      int              `json:"matched_records"`
	UnmatchedRecords    int              `json:"unmatched_records"`
	ProcessedOffset     int              `json:"processed_offset"`
	ErrorMessage        *string          `json:"error_message,omitempty"`
	StartedAt           *time.Time       `json:"started_at,omitempty"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// JobUpdate is a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status              *JobState
	Progress            *int
	TotalRecords        *int
	ProcessedRecords    *int
	MatchedRecords      *int
	UnmatchedRecords    *int
	ProcessedOffset     *int
	ErrorMessage        *string
	StartedAt           *time.Time
	CompletedAt         *time.Time
	Name                *string
	Description         *string
	ConfidenceThreshold *float64
}

// Apply copies the set fields onto job. Used by the in-memory store and by tests.
func (u JobUpdate) Apply(job *ReconciliationJob) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.TotalRecords != nil {
		job.TotalRecords = *u.TotalRecords
	}
	if u.ProcessedRecords != nil {
		job.ProcessedRecords = *u.ProcessedRecords
	}
	if u.MatchedRecords != nil {
		job.MatchedRecords = *u.MatchedRecords
	}
	if u.UnmatchedRecords != nil {
		job.UnmatchedRecords = *u.UnmatchedRecords
	}
	if u.ProcessedOffset != nil {
		job.ProcessedOffset = *u.ProcessedOffset
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
	if u.StartedAt != nil {
		job.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		job.CompletedAt = u.CompletedAt
	}
	if u.Name != nil {
		job.Name = *u.Name
	}
	if u.Description != nil {
		job.Description = u.Description
	}
	if u.ConfidenceThreshold != nil {
		job.ConfidenceThreshold = *u.ConfidenceThreshold
	}
}

// ReconciliationResult is one "match": a source A record and its partner, if any.
type ReconciliationResult struct {
	ID              uuid.UUID         `json:"id"`
	JobID           uuid.UUID         `json:"job_id"`
	RecordAID       string            `json:"record_a_id"`
	RecordBID       *string           `json:"record_b_id"`
	MatchType       matching.RuleType `json:"match_type,omitempty"`
	ConfidenceScore *float64          `json:"confidence_score"` // ConfidencePlaces decimals
	Status          ResultStatus      `json:"status"`
	Notes           *string           `json:"notes,omitempty"`
	ReviewedBy      *string           `json:"reviewed_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ConfidencePlaces is the precision confidence scores are kept at, matching NUMERIC(5,4).
const ConfidencePlaces = 4

// RoundConfidence rounds v half away from zero to ConfidencePlaces decimals.
func RoundConfidence(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(ConfidencePlaces).Float64()
	return f
}

func (r ReconciliationResult) Lean() LeanResult {
	return LeanResult{ID: r.ID, Confidence: r.ConfidenceScore, Status: r.Status}
}

// LeanResult is the reduced payload returned for lean=true listings.
type LeanResult struct {
	ID         uuid.UUID    `json:"id"`
	Confidence *float64     `json:"confidence"`
	Status     ResultStatus `json:"status"`
}

// ResultUpdate is a partial update of one result.
type ResultUpdate struct {
	Status          *ResultStatus `json:"status,omitempty"`
	ConfidenceScore *float64      `json:"confidence_score,omitempty"`
	ReviewedBy      *string       `json:"reviewed_by,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// JobStatistics summarises a job's results.
type JobStatistics struct {
	JobID             uuid.UUID `json:"job_id"`
	TotalResults      int       `json:"total_results"`
	Matched           int       `json:"matched"`
	Unmatched         int       `json:"unmatched"`
	Pending           int       `json:"pending"`
	Approved          int       `json:"approved"`
	Rejected          int       `json:"rejected"`
	MatchRate         float64   `json:"match_rate"`
	AverageConfidence float64   `json:"average_confidence"`
}

// Record is one row of a data source.
type Record struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}
