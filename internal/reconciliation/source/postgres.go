// internal/reconciliation/source/postgres.go
package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/models"
)

type recordRow struct {
	ID     string `db:"id"`
	Fields []byte `db:"fields"`
}

// PostgresSource reads the data_records table written by the upload pipeline.
type PostgresSource struct {
	db *sqlx.DB
}

func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Count(ctx context.Context, sourceID uuid.UUID) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM data_records WHERE data_source_id = $1`, sourceID); err != nil {
		return 0, apperrors.NewDatabaseError("count_records", err)
	}
	return n, nil
}

func (s *PostgresSource) Load(ctx context.Context, sourceID uuid.UUID, offset, limit int) ([]models.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, fields
		FROM data_records
		WHERE data_source_id = $1
		ORDER BY row_number
		LIMIT $2 OFFSET $3`,
		sourceID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load_records", err)
	}

	out := make([]models.Record, 0, len(rows))
	for _, r := range rows {
		raw := map[string]interface{}{}
		if len(r.Fields) > 0 {
			if err := json.Unmarshal(r.Fields, &raw); err != nil {
				return nil, apperrors.NewDatabaseError("load_records", fmt.Errorf("record %s: %w", r.ID, err))
			}
		}
		out = append(out, models.Record{ID: r.ID, Fields: stringifyFields(raw)})
	}
	return out, nil
}
