// internal/workers/reconciliation/batch-resolve-matches/models.go
package batchresolvematches

import "reconciliation-engine/internal/models"

type Input struct {
	JobID      string                `json:"jobId"`
	ReviewedBy string                `json:"reviewedBy"`
	Resolves   []models.MatchResolve `json:"resolves"`
}

type Output struct {
	ApprovedCount int      `json:"approvedCount"`
	RejectedCount int      `json:"rejectedCount"`
	Errors        []string `json:"errors"`
}
