package core

import (
	"errors"
	"fmt"
)

// ErrTaskAlreadyScheduled reports that a deferred dispatch found the task
// already parked. The existing entry keeps its due time; callers treat this
// as "nothing to do", not a failure.
var ErrTaskAlreadyScheduled = errors.New("task already scheduled")

// Error codes returned by the control surface and store.
const (
	ErrCodeNoItems          = "no_items"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeBudgetExceeded   = "budget_exceeded"
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternalError    = "internal_error"
)

// PipelineError is the domain error type surfaced to callers.
type PipelineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewInvalidRequestError creates an error for malformed caller input.
func NewInvalidRequestError(message string, details map[string]any) *PipelineError {
	return &PipelineError{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewNotFoundError creates an error for a missing resource.
func NewNotFoundError(resourceType, id string) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, id),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   id,
		},
	}
}

// NewConflictError creates an error for an illegal state transition or a
// duplicate create.
func NewConflictError(message string, details map[string]any) *PipelineError {
	return &PipelineError{Code: ErrCodeConflict, Message: message, Details: details}
}

// NewBudgetExceededError creates the admission-control refusal for a
// selection whose estimated cost exceeds the configured ceiling.
func NewBudgetExceededError(check BudgetCheck, budget float64) *PipelineError {
	return &PipelineError{
		Code: ErrCodeBudgetExceeded,
		Message: fmt.Sprintf("Estimated cost $%.4f exceeds budget $%.4f.",
			check.EstimatedCost, budget),
		Details: map[string]any{
			"estimated_cost":  check.EstimatedCost,
			"utilization_pct": check.UtilizationPct,
			"item_count":      check.ItemCount,
		},
	}
}

// NewInternalError creates a retryable error for unexpected failures.
func NewInternalError(message string) *PipelineError {
	return &PipelineError{Code: ErrCodeInternalError, Message: message, Retryable: true}
}
