// internal/reconciliation/store/postgres.go
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/matching"
)

//go:embed schema.sql
var schemaSQL string

const (
	jobColumns = `id, project_id, source_a_id, source_b_id, name, description, created_by, rule_set,
		confidence_threshold, status, progress, total_records, processed_records, matched_records,
		unmatched_records, processed_offset, error_message, started_at, completed_at, created_at, updated_at`

	resultColumns = `id, job_id, record_a_id, record_b_id, match_type, confidence_score, status,
		notes, reviewed_by, created_at, updated_at`

	insertJobSQL = `
		INSERT INTO reconciliation_jobs (` + jobColumns + `) VALUES (
			:id, :project_id, :source_a_id, :source_b_id, :name, :description, :created_by, :rule_set,
			:confidence_threshold, :status, :progress, :total_records, :processed_records, :matched_records,
			:unmatched_records, :processed_offset, :error_message, :started_at, :completed_at, :created_at, :updated_at
		)`

	updateJobSQL = `
		UPDATE reconciliation_jobs SET
			name = :name,
			description = :description,
			confidence_threshold = :confidence_threshold,
			status = :status,
			progress = :progress,
			total_records = :total_records,
			processed_records = :processed_records,
			matched_records = :matched_records,
			unmatched_records = :unmatched_records,
			processed_offset = :processed_offset,
			error_message = :error_message,
			started_at = :started_at,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id`

	updateResultSQL = `
		UPDATE reconciliation_results
		SET status = $1, confidence_score = $2, reviewed_by = $3, notes = $4, updated_at = $5
		WHERE id = $6`

	resolveResultSQL = `
		UPDATE reconciliation_results
		SET status = $1, reviewed_by = $2, notes = COALESCE($3, notes), updated_at = $4
		WHERE id = $5`

	statisticsSQL = `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE record_b_id IS NOT NULL) AS matched,
			COUNT(*) FILTER (WHERE record_b_id IS NULL) AS unmatched,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
			COALESCE(AVG(confidence_score), 0) AS average_confidence
		FROM reconciliation_results
		WHERE job_id = $1`

	resultInsertBatch = 500
	resultInsertCols  = 11
)

type jobRow struct {
	ID                  uuid.UUID        `db:"id"`
	ProjectID           uuid.UUID        `db:"project_id"`
	SourceAID           uuid.UUID        `db:"source_a_id"`
	SourceBID           uuid.UUID        `db:"source_b_id"`
	Name                string           `db:"name"`
	Description         *string          `db:"description"`
	CreatedBy           *uuid.UUID       `db:"created_by"`
	RuleSet             matching.RuleSet `db:"rule_set"`
	ConfidenceThreshold decimal.Decimal  `db:"confidence_threshold"`
	Status              string           `db:"status"`
	Progress            int              `db:"progress"`
	TotalRecords        int              `db:"total_records"`
	ProcessedRecords    int              `db:"processed_records"`
	MatchedRecords      int              `db:"matched_records"`
	UnmatchedRecords    int              `db:"unmatched_records"`
	ProcessedOffset     int              `db:"processed_offset"`
	ErrorMessage        *string          `db:"error_message"`
	StartedAt           *time.Time       `db:"started_at"`
	CompletedAt         *time.Time       `db:"completed_at"`
	CreatedAt           time.Time        `db:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at"`
}

func (r jobRow) toModel() models.ReconciliationJob {
	threshold, _ := r.ConfidenceThreshold.Float64()
	return models.ReconciliationJob{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		SourceAID:           r.SourceAID,
		SourceBID:           r.SourceBID,
		Name:                r.Name,
		Description:         r.Description,
		CreatedBy:           r.CreatedBy,
		RuleSet:             r.RuleSet,
		ConfidenceThreshold: threshold,
		Status:              models.JobState(r.Status),
		Progress:            r.Progress,
		TotalRecords:        r.TotalRecords,
		ProcessedRecords:    r.ProcessedRecords,
		MatchedRecords:      r.MatchedRecords,
		UnmatchedRecords:    r.UnmatchedRecords,
		ProcessedOffset:     r.ProcessedOffset,
		ErrorMessage:        r.ErrorMessage,
		StartedAt:           r.StartedAt,
		CompletedAt:         r.CompletedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func jobRowFrom(j *models.ReconciliationJob) jobRow {
	return jobRow{
		ID:                  j.ID,
		ProjectID:           j.ProjectID,
		SourceAID:           j.SourceAID,
		SourceBID:           j.SourceBID,
		Name:                j.Name,
		Description:         j.Description,
		CreatedBy:           j.CreatedBy,
		RuleSet:             j.RuleSet,
		ConfidenceThreshold: decimal.NewFromFloat(j.ConfidenceThreshold).Round(models.ConfidencePlaces),
		Status:              string(j.Status),
		Progress:            j.Progress,
		TotalRecords:        j.TotalRecords,
		ProcessedRecords:    j.ProcessedRecords,
		MatchedRecords:      j.MatchedRecords,
		UnmatchedRecords:    j.UnmatchedRecords,
		ProcessedOffset:     j.ProcessedOffset,
		ErrorMessage:        j.ErrorMessage,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
}

type resultRow struct {
	ID              uuid.UUID           `db:"id"`
	JobID           uuid.UUID           `db:"job_id"`
	RecordAID       string              `db:"record_a_id"`
	RecordBID       *string             `db:"record_b_id"`
	MatchType       *string             `db:"match_type"`
	ConfidenceScore decimal.NullDecimal `db:"confidence_score"`
	Status          string              `db:"status"`
	Notes           *string             `db:"notes"`
	ReviewedBy      *string             `db:"reviewed_by"`
	CreatedAt       time.Time           `db:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at"`
}

func (r resultRow) toModel() models.ReconciliationResult {
	res := models.ReconciliationResult{
		ID:         r.ID,
		JobID:      r.JobID,
		RecordAID:  r.RecordAID,
		RecordBID:  r.RecordBID,
		Status:     models.ResultStatus(r.Status),
		Notes:      r.Notes,
		ReviewedBy: r.ReviewedBy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.MatchType != nil {
		res.MatchType = matching.RuleType(*r.MatchType)
	}
	if r.ConfidenceScore.Valid {
		f, _ := r.ConfidenceScore.Decimal.Float64()
		res.ConfidenceScore = &f
	}
	return res
}

func confidenceValue(c *float64) decimal.NullDecimal {
	if c == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(*c).Round(models.ConfidencePlaces), Valid: true}
}

func matchTypeValue(t matching.RuleType) *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}

type statsRow struct {
	Total             int             `db:"total"`
	Matched           int             `db:"matched"`
	Unmatched         int             `db:"unmatched"`
	Pending           int             `db:"pending"`
	Approved          int             `db:"approved"`
	Rejected          int             `db:"rejected"`
	AverageConfidence decimal.Decimal `db:"average_confidence"`
}

// PostgresStore is the Store backed by the reconciliation_jobs and reconciliation_results tables.
type PostgresStore struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewPostgresStore(db *sqlx.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-store"}),
	}
}

// EnsureSchema creates the engine's tables when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return apperrors.NewDatabaseError("ensure_schema", err)
	}
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError(op, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", map[string]interface{}{
				"operation": op,
				"error":     rbErr,
			})
		}
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.NewDatabaseError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(op, err)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.ReconciliationJob) error {
	if _, err := s.db.NamedExecContext(ctx, insertJobSQL, jobRowFrom(job)); err != nil {
		return apperrors.NewDatabaseError("create_job", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM reconciliation_jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", id.String())
		}
		return nil, apperrors.NewDatabaseError("get_job", err)
	}
	job := row.toModel()
	return &job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, upd models.JobUpdate) (*models.ReconciliationJob, error) {
	var job models.ReconciliationJob
	err := s.withTx(ctx, "update_job", func(tx *sqlx.Tx) error {
		var row jobRow
		err := tx.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM reconciliation_jobs WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("job", id.String())
		}
		if err != nil {
			return err
		}

		job = row.toModel()
		if err := checkJobTransition(&job, upd); err != nil {
			return err
		}
		upd.Apply(&job)
		job.UpdatedAt = time.Now().UTC()

		_, err = tx.NamedExecContext(ctx, updateJobSQL, jobRowFrom(&job))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *PostgresStore) ListProjectJobs(ctx context.Context, projectID uuid.UUID) ([]models.ReconciliationJob, error) {
	return s.listJobs(ctx, "list_project_jobs",
		`SELECT `+jobColumns+` FROM reconciliation_jobs WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
}

// ListJobsByStatus returns jobs oldest first, the order in which queued jobs are re-admitted.
func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status models.JobState) ([]models.ReconciliationJob, error) {
	return s.listJobs(ctx, "list_jobs_by_status",
		`SELECT `+jobColumns+` FROM reconciliation_jobs WHERE status = $1 ORDER BY created_at ASC`, string(status))
}

func (s *PostgresStore) listJobs(ctx context.Context, op, query string, arg interface{}) ([]models.ReconciliationJob, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	jobs := make([]models.ReconciliationJob, len(rows))
	for i, r := range rows {
		jobs[i] = r.toModel()
	}
	return jobs, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, "delete_job", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_results WHERE job_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_jobs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NewNotFoundError("job", id.String())
		}
		return nil
	})
}

func (s *PostgresStore) SaveResults(ctx context.Context, jobID uuid.UUID, results []models.ReconciliationResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.withTx(ctx, "save_results", func(tx *sqlx.Tx) error {
		for start := 0; start < len(results); start += resultInsertBatch {
			end := start + resultInsertBatch
			if end > len(results) {
				end = len(results)
			}
			query, args := buildResultInsert(jobID, results[start:end])
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func buildResultInsert(jobID uuid.UUID, results []models.ReconciliationResult) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO reconciliation_results (` + resultColumns + `) VALUES `)

	args := make([]interface{}, 0, len(results)*resultInsertCols)
	for i, r := range results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < resultInsertCols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*resultInsertCols+c+1)
		}
		b.WriteString(")")

		args = append(args,
			r.ID, jobID, r.RecordAID, r.RecordBID, matchTypeValue(r.MatchType),
			confidenceValue(r.ConfidenceScore), string(r.Status), r.Notes, r.ReviewedBy,
			r.CreatedAt, r.UpdatedAt,
		)
	}
	return b.String(), args
}

func (s *PostgresStore) GetResults(ctx context.Context, jobID uuid.UUID, page, perPage int) (*models.Page[models.ReconciliationResult], error) {
	page, perPage = NormalizePage(page, perPage)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reconciliation_results WHERE job_id = $1`, jobID); err != nil {
		return nil, apperrors.NewDatabaseError("count_results", err)
	}

	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+resultColumns+`
		FROM reconciliation_results
		WHERE job_id = $1
		ORDER BY confidence_score DESC NULLS LAST, record_a_id
		LIMIT $2 OFFSET $3`,
		jobID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_results", err)
	}

	items := make([]models.ReconciliationResult, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return &models.Page[models.ReconciliationResult]{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *PostgresStore) BatchResolve(ctx context.Context, resolves []models.MatchResolve, reviewedBy string) (*models.BatchResolveResult, error) {
	out := &models.BatchResolveResult{Errors: []string{}}
	now := time.Now().UTC()

	err := s.withTx(ctx, "batch_resolve", func(tx *sqlx.Tx) error {
		for _, item := range resolves {
			if _, ok := models.ActionStatus(item.Action); !ok {
				_, msg := resolveOutcome(item, nil)
				out.Errors = append(out.Errors, msg)
				continue
			}

			var current *models.ReconciliationResult
			var row resultRow
			err := tx.GetContext(ctx, &row, `SELECT `+resultColumns+` FROM reconciliation_results WHERE id = $1 FOR UPDATE`, item.MatchID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return err
			default:
				res := row.toModel()
				current = &res
			}

			target, msg := resolveOutcome(item, current)
			if msg != "" {
				out.Errors = append(out.Errors, msg)
				continue
			}

			if _, err := tx.ExecContext(ctx, resolveResultSQL, string(target), reviewedBy, item.Notes, now, item.MatchID); err != nil {
				return err
			}
			countResolved(out, target)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) UpdateResult(ctx context.Context, id uuid.UUID, upd models.ResultUpdate) (*models.ReconciliationResult, error) {
	if err := validateConfidence(upd.ConfidenceScore); err != nil {
		return nil, err
	}

	var res models.ReconciliationResult
	err := s.withTx(ctx, "update_result", func(tx *sqlx.Tx) error {
		var row resultRow
		err := tx.GetContext(ctx, &row, `SELECT `+resultColumns+` FROM reconciliation_results WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("match", id.String())
		}
		if err != nil {
			return err
		}

		res = row.toModel()
		if err := checkResultUpdate(&res, upd); err != nil {
			return err
		}
		applyResultUpdate(&res, upd)
		res.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, updateResultSQL,
			string(res.Status), confidenceValue(res.ConfidenceScore), res.ReviewedBy, res.Notes, res.UpdatedAt, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *PostgresStore) JobStatistics(ctx context.Context, jobID uuid.UUID) (*models.JobStatistics, error) {
	var row statsRow
	if err := s.db.GetContext(ctx, &row, statisticsSQL, jobID); err != nil {
		return nil, apperrors.NewDatabaseError("job_statistics", err)
	}
	avg, _ := row.AverageConfidence.Round(4).Float64()
	stats := &models.JobStatistics{
		JobID:             jobID,
		TotalResults:      row.Total,
		Matched:           row.Matched,
		Unmatched:         row.Unmatched,
		Pending:           row.Pending,
		Approved:          row.Approved,
		Rejected:          row.Rejected,
		AverageConfidence: avg,
	}
	if row.Total > 0 {
		stats.MatchRate = float64(row.Matched) / float64(row.Total)
	}
	return stats, nil
}
