// internal/models/review.go
package models

import "github.com/google/uuid"

// Review actions accepted by batch resolve.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// ActionStatus maps a review action to the status it sets.
func ActionStatus(action string) (ResultStatus, bool) {
	switch action {
	case ActionApprove:
		return ResultApproved, true
	case ActionReject:
		return ResultRejected, true
	}
	return "", false
}

type MatchResolve struct {
	MatchID uuid.UUID `json:"match_id"`
	Action  string    `json:"action"`
	Notes   *string   `json:"notes,omitempty"`
}

type BatchResolveRequest struct {
	Resolves []MatchResolve `json:"resolves"`
}

// BatchResolveResult counts applied actions; skipped items are described in Errors.
type BatchResolveResult struct {
	ApprovedCount int      `json:"approved_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors"`
}
