// internal/models/progress.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Phases reported while a job runs.
const (
	PhaseQueued       = "queued"
	PhaseInitializing = "initializing"
	PhaseProcessing   = "processing"
	PhaseSaving       = "saving"
	PhaseCompleted    = "completed"
	PhaseFailed       = "failed"
	PhaseCancelled    = "cancelled"
)

// TerminalPhase reports whether phase ends a job.
func TerminalPhase(phase string) bool {
	return phase == PhaseCompleted || phase == PhaseFailed || phase == PhaseCancelled
}

// JobStatus is the scheduler's in-memory view of one active job.
type JobStatus struct {
	JobID        uuid.UUID `json:"job_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	State        JobState  `json:"status"`
	Progress     int       `json:"progress"`
	CurrentPhase string    `json:"current_phase"`
	Message      string    `json:"message"`
	TotalRecords *int      `json:"total_records,omitempty"`
	Processed    int       `json:"processed_records"`
	Matched      int       `json:"matched_records"`
	Unmatched    int       `json:"unmatched_records"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobProgress is the event emitted to progress sinks and returned by progress queries.
type JobProgress struct {
	JobID               uuid.UUID  `json:"job_id"`
	ProjectID           uuid.UUID  `json:"project_id"`
	Status              JobState   `json:"status"`
	Progress            int        `json:"progress"`
	TotalRecords        *int       `json:"total_records,omitempty"`
	ProcessedRecords    int        `json:"processed_records"`
	MatchedRecords      int        `json:"matched_records"`
	UnmatchedRecords    int        `json:"unmatched_records"`
	CurrentPhase        string     `json:"current_phase"`
	Message             string     `json:"message"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// ToProgress converts the status into an event, estimating completion at now.
func (s JobStatus) ToProgress(now time.Time) JobProgress {
	p := JobProgress{
		JobID:            s.JobID,
		ProjectID:        s.ProjectID,
		Status:           s.State,
		Progress:         s.Progress,
		TotalRecords:     s.TotalRecords,
		ProcessedRecords: s.Processed,
		MatchedRecords:   s.Matched,
		UnmatchedRecords: s.Unmatched,
		CurrentPhase:     s.CurrentPhase,
		Message:          s.Message,
	}
	if s.TotalRecords != nil && !s.State.IsTerminal() {
		p.EstimatedCompletion = EstimateCompletion(s.StartedAt, now, s.Processed, *s.TotalRecords)
	}
	return p
}

// JobProgressFromJob builds a progress view of a persisted job that is not in the active table.
func JobProgressFromJob(job *ReconciliationJob) JobProgress {
	total := job.TotalRecords
	phase := string(job.Status)
	msg := ""
	if job.ErrorMessage != nil {
		msg = *job.ErrorMessage
	}
	return JobProgress{
		JobID:            job.ID,
		ProjectID:        job.ProjectID,
		Status:           job.Status,
		Progress:         job.Progress,
		TotalRecords:     &total,
		ProcessedRecords: job.ProcessedRecords,
		MatchedRecords:   job.MatchedRecords,
		UnmatchedRecords: job.UnmatchedRecords,
		CurrentPhase:     phase,
		Message:          msg,
	}
}

// EstimateCompletion extrapolates the current throughput: now + remaining / (processed / elapsed).
// It returns nil until at least one record has been processed.
func EstimateCompletion(startedAt, now time.Time, processed, total int) *time.Time {
	elapsed := now.Sub(startedAt)
	if processed <= 0 || elapsed <= 0 || total <= processed {
		return nil
	}
	rate := float64(processed) / elapsed.Seconds()
	remaining := time.Duration(float64(total-processed) / rate * float64(time.Second))
	eta := now.Add(remaining)
	return &eta
}
