package batchresolvematches

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/workers/reconciliation/workertest"
	"reconciliation-engine/pkg/registry"
)

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) BatchResolve(ctx context.Context, jobID uuid.UUID, req models.BatchResolveRequest, reviewedBy string) (*models.BatchResolveResult, error) {
	args := m.Called(ctx, jobID, req, reviewedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BatchResolveResult), args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       5 * time.Second,
		MaxResolves:   3,
	}
}

func createTestHandler(t *testing.T, svc Resolver) *Handler {
	reg, err := registry.Default()
	require.NoError(t, err)
	return NewHandler(createTestConfig(), svc, reg, logger.NewTestLogger(t))
}

func resolves(actions ...string) []models.MatchResolve {
	out := make([]models.MatchResolve, len(actions))
	for i, a := range actions {
		out[i] = models.MatchResolve{MatchID: uuid.New(), Action: a}
	}
	return out
}

func TestHandler_Execute(t *testing.T) {
	jobID := uuid.New()
	items := resolves(models.ActionApprove, models.ActionReject, "escalate")

	tests := []struct {
		name           string
		input          *Input
		setup          func(m *MockResolver)
		wantErr        func(t *testing.T, err error)
		validateOutput func(t *testing.T, output *Output)
	}{
		{
			name:  "mixed actions",
			input: &Input{JobID: jobID.String(), ReviewedBy: "ana", Resolves: items},
			setup: func(m *MockResolver) {
				m.On("BatchResolve", mock.Anything, jobID, models.BatchResolveRequest{Resolves: items}, "ana").
					Return(&models.BatchResolveResult{
						ApprovedCount: 1,
						RejectedCount: 1,
						Errors:        []string{"Invalid action for match " + items[2].MatchID.String()},
					}, nil)
			},
			validateOutput: func(t *testing.T, output *Output) {
				assert.Equal(t, 1, output.ApprovedCount)
				assert.Equal(t, 1, output.RejectedCount)
				require.Len(t, output.Errors, 1)
				assert.Contains(t, output.Errors[0], items[2].MatchID.String())
			},
		},
		{
			name:  "nil errors become empty list",
			input: &Input{JobID: jobID.String(), ReviewedBy: "ana"},
			setup: func(m *MockResolver) {
				m.On("BatchResolve", mock.Anything, jobID, models.BatchResolveRequest{}, "ana").
					Return(&models.BatchResolveResult{}, nil)
			},
			validateOutput: func(t *testing.T, output *Output) {
				assert.NotNil(t, output.Errors)
				assert.Empty(t, output.Errors)
			},
		},
		{
			name:    "too many items",
			input:   &Input{JobID: jobID.String(), ReviewedBy: "ana", Resolves: resolves("approve", "approve", "approve", "approve")},
			setup:   func(m *MockResolver) {},
			wantErr: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrTooManyResolves) },
		},
		{
			name:    "bad job id",
			input:   &Input{JobID: "x", ReviewedBy: "ana"},
			setup:   func(m *MockResolver) {},
			wantErr: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrInvalidJobID) },
		},
		{
			name:  "service error passes through",
			input: &Input{JobID: jobID.String(), ReviewedBy: "ana"},
			setup: func(m *MockResolver) {
				m.On("BatchResolve", mock.Anything, jobID, mock.Anything, "ana").
					Return(nil, apperrors.NewNotFoundError("job", jobID.String()))
			},
			wantErr: func(t *testing.T, err error) { assert.True(t, apperrors.IsNotFound(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockResolver{}
			tt.setup(svc)
			h := createTestHandler(t, svc)

			output, err := h.Execute(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
			} else {
				require.NoError(t, err)
				tt.validateOutput(t, output)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_Handle_Completes(t *testing.T) {
	jobID := uuid.New()
	items := resolves(models.ActionApprove)
	svc := &MockResolver{}
	svc.On("BatchResolve", mock.Anything, jobID, models.BatchResolveRequest{Resolves: items}, "ana").
		Return(&models.BatchResolveResult{ApprovedCount: 1, Errors: []string{}}, nil)

	client := workertest.NewJobClient()
	createTestHandler(t, svc).Handle(client, workertest.NewJob(7, TaskType, 3, Input{
		JobID:      jobID.String(),
		ReviewedBy: "ana",
		Resolves:   items,
	}))

	var out Output
	client.CompletedVariables(t, &out)
	assert.Equal(t, 1, out.ApprovedCount)
	assert.Equal(t, 0, out.RejectedCount)
	svc.AssertExpectations(t)
}

func TestHandler_Handle_DatabaseErrorFailsWithRetries(t *testing.T) {
	jobID := uuid.New()
	svc := &MockResolver{}
	svc.On("BatchResolve", mock.Anything, jobID, mock.Anything, "ana").
		Return(nil, apperrors.NewDatabaseError("batch resolve", errors.New("connection reset")))

	client := workertest.NewJobClient()
	createTestHandler(t, svc).Handle(client, workertest.NewJob(8, TaskType, 3, Input{
		JobID:      jobID.String(),
		ReviewedBy: "ana",
		Resolves:   resolves(models.ActionReject),
	}))

	failed := client.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, int32(2), failed[0].Retries)
	assert.Contains(t, failed[0].Variables, "DATABASE_ERROR")
	assert.Empty(t, client.Thrown())
}

func TestHandler_Handle_ThrowsOnInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		variables interface{}
		wantCode  string
	}{
		{"missing reviewer", map[string]interface{}{"jobId": uuid.NewString(), "reviewedBy": "", "resolves": []interface{}{}}, "INVALID_INPUT"},
		{"missing resolves", map[string]interface{}{"jobId": uuid.NewString(), "reviewedBy": "ana"}, "INVALID_INPUT"},
		{"too many items", Input{JobID: uuid.NewString(), ReviewedBy: "ana", Resolves: resolves("approve", "approve", "approve", "approve")}, "TOO_MANY_RESOLVES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockResolver{}
			client := workertest.NewJobClient()
			createTestHandler(t, svc).Handle(client, workertest.NewJob(9, TaskType, 3, tt.variables))

			thrown := client.Thrown()
			require.Len(t, thrown, 1)
			assert.Equal(t, tt.wantCode, thrown[0].ErrorCode)
			svc.AssertNotCalled(t, "BatchResolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
