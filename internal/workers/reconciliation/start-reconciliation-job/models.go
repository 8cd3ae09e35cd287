// internal/workers/reconciliation/start-reconciliation-job/models.go
package startreconciliationjob

type Input struct {
	JobID string `json:"jobId"`
}

// Output reports whether the job got a scheduler slot. A job that is not
// admitted stays queued and status is "queued".
type Output struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Admitted bool   `json:"admitted"`
}
