// Package source reads data source records in ordinal windows for the chunk processor.
package source

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/models"
)

// RecordSource addresses a data source's records by ordinal position.
type RecordSource interface {
	Count(ctx context.Context, sourceID uuid.UUID) (int, error)
	// Load returns at most limit records starting at offset, in row order.
	Load(ctx context.Context, sourceID uuid.UUID, offset, limit int) ([]models.Record, error)
}

// LoadAll reads every record of a source in windows of pageSize.
func LoadAll(ctx context.Context, src RecordSource, sourceID uuid.UUID, pageSize int) ([]models.Record, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	var all []models.Record
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := src.Load(ctx, sourceID, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}

// stringifyFields flattens decoded JSON values into the string form the matchers compare.
func stringifyFields(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// MemorySource serves records held in process.
type MemorySource struct {
	mu      sync.RWMutex
	records map[uuid.UUID][]models.Record
}

func NewMemorySource() *MemorySource {
	return &MemorySource{records: make(map[uuid.UUID][]models.Record)}
}

// Put replaces the records of a source.
func (m *MemorySource) Put(sourceID uuid.UUID, records []models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.Record, len(records))
	copy(cp, records)
	m.records[sourceID] = cp
}

func (m *MemorySource) Count(_ context.Context, sourceID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.records[sourceID]
	if !ok {
		return 0, apperrors.NewNotFoundError("data source", sourceID.String())
	}
	return len(recs), nil
}

func (m *MemorySource) Load(_ context.Context, sourceID uuid.UUID, offset, limit int) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.records[sourceID]
	if !ok {
		return nil, apperrors.NewNotFoundError("data source", sourceID.String())
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) || limit <= 0 {
		return []models.Record{}, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	out := make([]models.Record, end-offset)
	copy(out, recs[offset:end])
	return out, nil
}
