// Package errors provides the engine's error taxonomy and its mapping onto BPMN errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeValidation       ErrorCode = "VALIDATION_FAILED"
	ErrCodeDatabase         ErrorCode = "DATABASE_ERROR"
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	ErrCodeJobNotFound   ErrorCode = "JOB_NOT_FOUND"
	ErrCodeMatchNotFound ErrorCode = "MATCH_NOT_FOUND"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE_TRANSITION"

	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Category folds the specific codes into the four-way taxonomy callers branch on.
func (e *StandardError) Category() ErrorCode {
	switch e.Code {
	case ErrCodeJobNotFound, ErrCodeMatchNotFound, ErrCodeNotFound:
		return ErrCodeNotFound
	case ErrCodeInvalidState, ErrCodeValidation:
		return ErrCodeValidation
	default:
		return e.Code
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewNotFoundError reports a missing job, match or data source.
func NewNotFoundError(resource, id string) *StandardError {
	code := ErrCodeNotFound
	switch resource {
	case "job":
		code = ErrCodeJobNotFound
	case "match":
		code = ErrCodeMatchNotFound
	}
	return &StandardError{
		Code:      code,
		Message:   fmt.Sprintf("%s %s not found", resource, id),
		Retryable: false,
		Metadata:  map[string]interface{}{"resource": resource, "id": id},
		Timestamp: time.Now().UTC(),
	}
}

func NewValidationError(message, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError is returned when a job or match would leave a state it cannot leave.
func NewInvalidStateError(resource, id, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   fmt.Sprintf("%s %s cannot move from %s to %s", resource, id, from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError wraps a storage failure. The engine never retries these itself.
func NewDatabaseError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabase,
		Message:   fmt.Sprintf("database operation %s failed", operation),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"operation": operation},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewCapacityError signals that job admission was refused; the job stays queued.
func NewCapacityError(active, limit int) *StandardError {
	return &StandardError{
		Code:      ErrCodeCapacityExceeded,
		Message:   "maximum concurrent jobs reached",
		Details:   fmt.Sprintf("active: %d, limit: %d", active, limit),
		Retryable: true,
		Metadata:  map[string]interface{}{"active": active, "limit": limit},
		Timestamp: time.Now().UTC(),
	}
}

// NewExternalServiceError wraps a failure talking to a collaborator such as the Zeebe gateway.
func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("%s request failed", service),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Inspection Helpers
// ==========================

// As returns the first StandardError in err's chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Is reports whether err carries code, either exactly or through its category.
func Is(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	if !ok {
		return false
	}
	return stdErr.Code == code || stdErr.Category() == code
}

func IsNotFound(err error) bool   { return Is(err, ErrCodeNotFound) }
func IsValidation(err error) bool { return Is(err, ErrCodeValidation) }
func IsDatabase(err error) bool   { return Is(err, ErrCodeDatabase) }
func IsCapacity(err error) bool   { return Is(err, ErrCodeCapacityExceeded) }

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns how many times the workflow engine should retry a failed task.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabase, ErrCodeExternalService:
		return 3
	case ErrCodeCapacityExceeded:
		return 10
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "NOT_FOUND"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "CAPACITY"):
		return "CAPACITY"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
