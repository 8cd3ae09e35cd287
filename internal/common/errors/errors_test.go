package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotFoundError_Codes(t *testing.T) {
	tests := []struct {
		resource string
		want     ErrorCode
	}{
		{"job", ErrCodeJobNotFound},
		{"match", ErrCodeMatchNotFound},
		{"data source", ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			err := NewNotFoundError(tt.resource, "abc")
			assert.Equal(t, tt.want, err.Code)
			assert.True(t, IsNotFound(err))
			assert.False(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.resource+" abc not found")
		})
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := NewDatabaseError("save_results", stderrors.New("connection reset"))
	wrapped := fmt.Errorf("chunk 3: %w", base)

	assert.True(t, IsDatabase(wrapped))
	assert.False(t, IsCapacity(wrapped))

	stdErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "save_results", stdErr.Metadata["operation"])
	assert.EqualError(t, stderrors.Unwrap(stdErr), "connection reset")
}

func TestInvalidState_IsValidation(t *testing.T) {
	err := NewInvalidStateError("job", "j1", "completed", "processing")
	assert.True(t, IsValidation(err))
	assert.Equal(t, ErrCodeInvalidState, err.Code)
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantRetries int
	}{
		{"database errors retry", NewDatabaseError("get_job", stderrors.New("boom")), 3},
		{"capacity retries until admitted", NewCapacityError(5, 5), 10},
		{"validation never retries", NewValidationError("bad rule", ""), 0},
		{"not found never retries", NewNotFoundError("job", "x"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, string(tt.err.Code), bpmn.Code)

			vars := bpmn.ToErrorVariables()
			assert.Equal(t, string(tt.err.Code), vars["originalErrorCode"])
			assert.Equal(t, tt.err.Retryable, vars["retryable"])
		})
	}
}

func TestNormalize_ForeignError(t *testing.T) {
	stdErr := Normalize(stderrors.New("unexpected"))
	assert.Equal(t, ErrCodeInternal, stdErr.Code)
	assert.Equal(t, "unexpected", stdErr.Details)
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", GetErrorCategory(ErrCodeMatchNotFound))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeDatabase))
	assert.Equal(t, "CAPACITY", GetErrorCategory(ErrCodeCapacityExceeded))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidState))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}
