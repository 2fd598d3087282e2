package ir

import (
	"errors"
	"fmt"
)

// Code categorizes expected, recoverable failures.
//
// Codes are part of the public contract: callers branch on them to decide
// whether an error is retryable (target_dtu_not_found) or terminal
// (self_edge_not_allowed).
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeTargetDTUNotFound   Code = "target_dtu_not_found"
	CodeInvalidInput        Code = "invalid_input"
	CodeInvalidEdgeType     Code = "invalid_edge_type"
	CodeSelfEdgeNotAllowed  Code = "self_edge_not_allowed"
	CodeDuplicateEdge       Code = "duplicate_edge"
	CodeGateTraceRequired   Code = "gate_trace_required"
	CodeProposalNotFound    Code = "proposal_not_found"
	CodeProposalNotPending  Code = "proposal_not_pending"
	CodeMergeConflict       Code = "merge_conflict"
	CodeSourceNotActivated  Code = "source_not_activated"
	CodeInvalidWorkItemType Code = "invalid_work_item_type"
	CodeBudgetExhausted     Code = "BUDGET_EXHAUSTED"
	CodeAllocationNotFound  Code = "allocation_not_found"
	CodeAllocationNotActive Code = "allocation_not_active"
	CodeInvalidBudget       Code = "invalid_budget"
	CodeInvalidEventType    Code = "invalid_event_type"
)

// Error is the result of every expected failure in the lattice core.
//
// Error includes structured fields for diagnostics. Wrapped causes are
// reachable through errors.Unwrap.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Details contains additional context (ids, limits).
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error that wraps a cause.
func WrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetail returns e after recording a key/value detail.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the outermost *Error in err's chain,
// or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// NotFound is shorthand for a not_found error naming the missing entity.
func NotFound(kind, id string) *Error {
	return NewError(CodeNotFound, "%s %q not found", kind, id).WithDetail("id", id)
}
