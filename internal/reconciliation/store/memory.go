// internal/reconciliation/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/models"
)

// MemoryStore keeps jobs and results in process. It backs local dry runs and the service tests.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]models.ReconciliationJob
	results map[uuid.UUID]models.ReconciliationResult
	byJob   map[uuid.UUID][]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]models.ReconciliationJob),
		results: make(map[uuid.UUID]models.ReconciliationResult),
		byJob:   make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.ReconciliationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return apperrors.NewValidationError("job already exists", job.ID.String())
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id.String())
	}
	return &job, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, upd models.JobUpdate) (*models.ReconciliationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id.String())
	}
	if err := checkJobTransition(&job, upd); err != nil {
		return nil, err
	}
	upd.Apply(&job)
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return &job, nil
}

func (m *MemoryStore) ListProjectJobs(_ context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error) {
	jobs := m.filterJobs(func(j models.ReconciliationJob) bool { return j.ProjectID == projectID })
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

func (m *MemoryStore) ListJobsByStatus(_ context.Context, status models.JobState) ([]models.ReconciliationJob, error) {
	jobs := m.filterJobs(func(j models.ReconciliationJob) bool { return j.Status == status })
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, nil
}

func (m *MemoryStore) filterJobs(keep func(models.ReconciliationJob) bool) []models.ReconciliationJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ReconciliationJob{}
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}

func (m *MemoryStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return apperrors.NewNotFoundError("job", id.String())
	}
	for _, rid := range m.byJob[id] {
		delete(m.results, rid)
	}
	delete(m.byJob, id)
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) SaveResults(_ context.Context, jobID uuid.UUID, results []models.ReconciliationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if _, dup := m.results[r.ID]; dup {
			return apperrors.NewDatabaseError("save_results", apperrors.NewValidationError("duplicate result id", r.ID.String()))
		}
	}
	for _, r := range results {
		r.JobID = jobID
		if r.ConfidenceScore != nil {
			c := models.RoundConfidence(*r.ConfidenceScore)
			r.ConfidenceScore = &c
		}
		m.results[r.ID] = r
		m.byJob[jobID] = append(m.byJob[jobID], r.ID)
	}
	return nil
}

func (m *MemoryStore) GetResults(_ context.Context, jobID uuid.UUID, page, perPage int) (*models.Page[models.ReconciliationResult], error) {
	page, perPage = NormalizePage(page, perPage)

	m.mu.RLock()
	all := make([]models.ReconciliationResult, 0, len(m.byJob[jobID]))
	for _, rid := range m.byJob[jobID] {
		all = append(all, m.results[rid])
	}
	m.mu.RUnlock()

	sort.SliceStable(all, func(i, k int) bool {
		a, b := all[i].ConfidenceScore, all[k].ConfidenceScore
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a > *b
		}
		return all[i].RecordAID < all[k].RecordAID
	})

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	return &models.Page[models.ReconciliationResult]{
		Items:   all[start:end],
		Total:   len(all),
		Page:    page,
		PerPage: perPage,
	}, nil
}

// BatchResolve applies all valid items under one lock, the in-process equivalent of one transaction.
func (m *MemoryStore) BatchResolve(_ context.Context, resolves []models.MatchResolve, reviewedBy string) (*models.BatchResolveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &models.BatchResolveResult{Errors: []string{}}
	now := time.Now().UTC()
	for _, item := range resolves {
		var current *models.ReconciliationResult
		if r, ok := m.results[item.MatchID]; ok {
			current = &r
		}
		target, msg := resolveOutcome(item, current)
		if msg != "" {
			out.Errors = append(out.Errors, msg)
			continue
		}

		res := *current
		res.Status = target
		reviewer := reviewedBy
		res.ReviewedBy = &reviewer
		if item.Notes != nil {
			res.Notes = item.Notes
		}
		res.UpdatedAt = now
		m.results[res.ID] = res
		countResolved(out, target)
	}
	return out, nil
}

func (m *MemoryStore) UpdateResult(_ context.Context, id uuid.UUID, upd models.ResultUpdate) (*models.ReconciliationResult, error) {
	if err := validateConfidence(upd.ConfidenceScore); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("match", id.String())
	}
	if err := checkResultUpdate(&res, upd); err != nil {
		return nil, err
	}
	applyResultUpdate(&res, upd)
	res.UpdatedAt = time.Now().UTC()
	m.results[id] = res
	return &res, nil
}

func (m *MemoryStore) JobStatistics(_ context.Context, jobID uuid.UUID) (*models.JobStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.JobStatistics{JobID: jobID}
	var confSum float64
	var confN int
	for _, rid := range m.byJob[jobID] {
		r := m.results[rid]
		stats.TotalResults++
		if r.RecordBID != nil {
			stats.Matched++
		} else {
			stats.Unmatched++
		}
		switch r.Status {
		case models.ResultPending:
			stats.Pending++
		case models.ResultApproved:
			stats.Approved++
		case models.ResultRejected:
			stats.Rejected++
		}
		if r.ConfidenceScore != nil {
			confSum += *r.ConfidenceScore
			confN++
		}
	}
	if stats.TotalResults > 0 {
		stats.MatchRate = float64(stats.Matched) / float64(stats.TotalResults)
	}
	if confN > 0 {
		stats.AverageConfidence = confSum / float64(confN)
	}
	return stats, nil
}
