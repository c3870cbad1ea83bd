package shared

import (
	"errors"
	"fmt"
)

// Code is the machine readable identifier carried by core errors.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeInsufficientStock Code = "insufficient_stock"
	CodeFIFOInconsistency Code = "fifo_inconsistency"
	CodePostingImbalance  Code = "posting_imbalance"
	CodeInvalidTransition Code = "invalid_transition"
	CodeNotFound          Code = "not_found"
)

// Override flags a caller may set to lift a rejection.
const (
	OverrideNegativeStock     = "allow_negative_stock"
	OverrideFIFOInconsistency = "allow_fifo_inconsistency"
)

// Error is the structured error surfaced to the CRUD/API layer.
type Error struct {
	Code     Code
	Message  string
	Override string
	Details  map[string]any
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is regardless of message and details.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Code == other.Code
}

var (
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = &Error{Code: CodeValidation}
	// ErrInsufficientStock indicates lots were exhausted before a draw completed.
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock, Override: OverrideNegativeStock}
	// ErrFIFOInconsistency indicates a change would rewrite history relied on by later consumers.
	ErrFIFOInconsistency = &Error{Code: CodeFIFOInconsistency, Override: OverrideFIFOInconsistency}
	// ErrPostingImbalance indicates a journal entry whose debits and credits differ.
	ErrPostingImbalance = &Error{Code: CodePostingImbalance}
	// ErrInvalidTransition indicates a voucher lifecycle violation.
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	// ErrNotFound indicates resource not found.
	ErrNotFound = &Error{Code: CodeNotFound}
)

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionf builds a lifecycle error.
func InvalidTransitionf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, or "" when err is not a core error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}
