package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

var (
	jobCols = []string{
		"id", "project_id", "source_a_id", "source_b_id", "name", "description", "created_by", "rule_set",
		"confidence_threshold", "status", "progress", "total_records", "processed_records", "matched_records",
		"unmatched_records", "processed_offset", "error_message", "started_at", "completed_at", "created_at", "updated_at",
	}
	resultCols = []string{
		"id", "job_id", "record_a_id", "record_b_id", "match_type", "confidence_score", "status",
		"notes", "reviewed_by", "created_at", "updated_at",
	}
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres"), logger.NewTestLogger(t)), mock
}

func jobRows(id uuid.UUID, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobCols).AddRow(
		id.String(), uuid.NewString(), uuid.NewString(), uuid.NewString(), "march invoices", nil, nil,
		[]byte(`[{"field":"email","rule_type":"exact","weight":1,"threshold":1}]`),
		"0.8000", status, 40, 200, 80, 60, 20, 80, nil, now, nil, now, now,
	)
}

func resultRowValues(id uuid.UUID, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(resultCols).AddRow(
		id.String(), uuid.NewString(), "a-1", "b-1", "exact", 0.95, status, nil, nil, now, now,
	)
}

// ==========================
// Job Tests
// ==========================

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO reconciliation_jobs`).WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReconciliationJob{
		ID:                  uuid.New(),
		ProjectID:           uuid.New(),
		Name:                "march invoices",
		ConfidenceThreshold: 0.8,
		Status:              models.JobQueued,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery(`FROM reconciliation_jobs WHERE id = \$1`).WithArgs(id).WillReturnRows(jobRows(id, "processing"))

	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, models.JobProcessing, job.Status)
	assert.InDelta(t, 0.8, job.ConfidenceThreshold, 1e-9)
	require.Len(t, job.RuleSet, 1)
	assert.Equal(t, "email", job.RuleSet[0].Field)
	assert.Nil(t, job.CreatedBy)
	assert.Nil(t, job.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery(`FROM reconciliation_jobs WHERE id = \$1`).WithArgs(id).WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := s.GetJob(context.Background(), id)
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeJobNotFound))
}

func TestPostgresStore_UpdateJob(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		update    models.JobUpdate
		mockWrite func(mock sqlmock.Sqlmock)
		check     func(t *testing.T, job *models.ReconciliationJob, err error)
	}{
		{
			name:    "progress update while processing",
			current: "processing",
			update:  models.JobUpdate{Progress: intPtr(60), ProcessedRecords: intPtr(120), ProcessedOffset: intPtr(120)},
			mockWrite: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reconciliation_jobs SET`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			check: func(t *testing.T, job *models.ReconciliationJob, err error) {
				require.NoError(t, err)
				assert.Equal(t, 60, job.Progress)
				assert.Equal(t, 120, job.ProcessedOffset)
				assert.Equal(t, models.JobProcessing, job.Status)
			},
		},
		{
			name:    "completion",
			current: "processing",
			update:  models.JobUpdate{Status: statePtr(models.JobCompleted), Progress: intPtr(100)},
			mockWrite: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE reconciliation_jobs SET`).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			check: func(t *testing.T, job *models.ReconciliationJob, err error) {
				require.NoError(t, err)
				assert.Equal(t, models.JobCompleted, job.Status)
			},
		},
		{
			name:    "terminal state is final",
			current: "completed",
			update:  models.JobUpdate{Status: statePtr(models.JobProcessing)},
			mockWrite: func(mock sqlmock.Sqlmock) {
				mock.ExpectRollback()
			},
			check: func(t *testing.T, job *models.ReconciliationJob, err error) {
				assert.Nil(t, job)
				assert.True(t, apperrors.IsValidation(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			id := uuid.New()
			mock.ExpectBegin()
			mock.ExpectQuery(`FROM reconciliation_jobs WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(jobRows(id, tt.current))
			tt.mockWrite(mock)

			job, err := s.UpdateJob(context.Background(), id, tt.update)
			tt.check(t, job, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_DeleteJob_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM reconciliation_results WHERE job_id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM reconciliation_jobs WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.DeleteJob(context.Background(), id)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Result Tests
// ==========================

func TestPostgresStore_SaveResults(t *testing.T) {
	jobID := uuid.New()
	conf := 0.91
	b := "b-7"
	results := []models.ReconciliationResult{
		{ID: uuid.New(), RecordAID: "a-1", RecordBID: &b, MatchType: "fuzzy", ConfidenceScore: &conf, Status: models.ResultPending},
		{ID: uuid.New(), RecordAID: "a-2", Status: models.ResultUnmatched},
	}

	t.Run("commits one transaction", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO reconciliation_results`).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, s.SaveResults(context.Background(), jobID, results))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO reconciliation_results`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.SaveResults(context.Background(), jobID, results)
		assert.True(t, apperrors.IsDatabase(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBuildResultInsert_Placeholders(t *testing.T) {
	results := []models.ReconciliationResult{{ID: uuid.New()}, {ID: uuid.New()}}
	query, args := buildResultInsert(uuid.New(), results)
	assert.Len(t, args, 22)
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11), ($12,")
	assert.Contains(t, query, "$22)")
	assert.Nil(t, args[4], "empty match type is stored as NULL")
}

func TestPostgresStore_GetResults_ClampsPagination(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reconciliation_results WHERE job_id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`ORDER BY confidence_score DESC NULLS LAST, record_a_id\s+LIMIT \$2 OFFSET \$3`).
		WithArgs(jobID, 100, 0).
		WillReturnRows(sqlmock.NewRows(resultCols).
			AddRow(uuid.NewString(), jobID.String(), "a-1", "b-1", "exact", 1.0, "pending", nil, nil, now, now).
			AddRow(uuid.NewString(), jobID.String(), "a-2", nil, nil, nil, "unmatched", nil, nil, now, now))

	page, err := s.GetResults(context.Background(), jobID, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PerPage)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.InDelta(t, 1.0, *page.Items[0].ConfidenceScore, 1e-9)
	assert.Nil(t, page.Items[1].RecordBID)
	assert.Nil(t, page.Items[1].ConfidenceScore)
	assert.Empty(t, page.Items[1].MatchType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BatchResolve(t *testing.T) {
	s, mock := newMockStore(t)
	approveID, badID, missingID, doneID, rejectID := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	lookup := `FROM reconciliation_results WHERE id = \$1 FOR UPDATE`

	mock.ExpectBegin()
	mock.ExpectQuery(lookup).WithArgs(approveID).WillReturnRows(resultRowValues(approveID, "pending"))
	mock.ExpectExec(`UPDATE reconciliation_results`).
		WithArgs("approved", "reviewer-1", sqlmock.AnyArg(), sqlmock.AnyArg(), approveID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lookup).WithArgs(missingID).WillReturnRows(sqlmock.NewRows(resultCols))
	mock.ExpectQuery(lookup).WithArgs(doneID).WillReturnRows(resultRowValues(doneID, "approved"))
	mock.ExpectQuery(lookup).WithArgs(rejectID).WillReturnRows(resultRowValues(rejectID, "unmatched"))
	mock.ExpectExec(`UPDATE reconciliation_results`).
		WithArgs("rejected", "reviewer-1", sqlmock.AnyArg(), sqlmock.AnyArg(), rejectID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.BatchResolve(context.Background(), []models.MatchResolve{
		{MatchID: approveID, Action: "approve"},
		{MatchID: badID, Action: "escalate"},
		{MatchID: missingID, Action: "approve"},
		{MatchID: doneID, Action: "reject"},
		{MatchID: rejectID, Action: "reject"},
	}, "reviewer-1")
	require.NoError(t, err)

	assert.Equal(t, 1, out.ApprovedCount)
	assert.Equal(t, 1, out.RejectedCount)
	assert.Equal(t, []string{
		"invalid action 'escalate' for match " + badID.String(),
		"match " + missingID.String() + " not found",
		"match " + doneID.String() + " is already approved",
	}, out.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BatchResolve_RollsBackOnStoreFailure(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reconciliation_results WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	out, err := s.BatchResolve(context.Background(), []models.MatchResolve{{MatchID: id, Action: "approve"}}, "reviewer-1")
	assert.Nil(t, out)
	assert.True(t, apperrors.IsDatabase(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateResult(t *testing.T) {
	t.Run("partial update", func(t *testing.T) {
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM reconciliation_results WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(resultRowValues(id, "pending"))
		mock.ExpectExec(`UPDATE reconciliation_results`).
			WithArgs("pending", sqlmock.AnyArg(), nil, "checked manually", sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		notes := "checked manually"
		res, err := s.UpdateResult(context.Background(), id, models.ResultUpdate{Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, "checked manually", *res.Notes)
		assert.Equal(t, models.ResultPending, res.Status)
		assert.InDelta(t, 0.95, *res.ConfidenceScore, 1e-9)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("confidence out of range is rejected before any query", func(t *testing.T) {
		s, mock := newMockStore(t)
		bad := 1.2
		_, err := s.UpdateResult(context.Background(), uuid.New(), models.ResultUpdate{ConfidenceScore: &bad})
		assert.True(t, apperrors.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing match", func(t *testing.T) {
		s, mock := newMockStore(t)
		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM reconciliation_results WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(sqlmock.NewRows(resultCols))
		mock.ExpectRollback()

		_, err := s.UpdateResult(context.Background(), id, models.ResultUpdate{})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeMatchNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_JobStatistics(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()
	mock.ExpectQuery(`COUNT\(\*\) FILTER`).WithArgs(jobID).WillReturnRows(
		sqlmock.NewRows([]string{"total", "matched", "unmatched", "pending", "approved", "rejected", "average_confidence"}).
			AddRow(10, 7, 3, 5, 3, 2, "0.87654"))

	stats, err := s.JobStatistics(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalResults)
	assert.InDelta(t, 0.7, stats.MatchRate, 1e-9)
	assert.InDelta(t, 0.8765, stats.AverageConfidence, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func intPtr(v int) *int { return &v }

func statePtr(s models.JobState) *models.JobState { return &s }
