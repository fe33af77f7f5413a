package errors

import (
	stderrors "errors"
	"fmt"

	"gopac/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of an
// AppError cause or classifying a domain error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    Classify(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// Classify maps an error chain to a code.
func Classify(err error) string {
	var appErr *AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr.Code
	case core.IsConfigurationError(err):
		return CodeConfigInvalid
	case core.IsOverflowError(err):
		return CodeOverflow
	case core.IsSearchExhausted(err):
		return CodeSearchExhausted
	case stderrors.Is(err, core.ErrNoCheckpoint):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch Classify(err) {
	case CodeConfigInvalid, CodeInvalidInput:
		return 2
	case CodeOverflow, CodeSearchExhausted:
		return 3
	case CodeViolation:
		return 4
	default:
		return 1
	}
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeOverflow        = "ARITHMETIC_OVERFLOW"
	CodeSearchExhausted = "SEARCH_EXHAUSTED"
	CodeViolation       = "CONJECTURE_VIOLATION"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return &AppError{Code: CodeConfigInvalid, Message: message, Cause: core.ErrConfiguration}
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: message, Cause: cause}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// Violation reports that a run falsified the conjecture. It is returned by
// the CLI after results are written, never by the engine.
func Violation(count int) *AppError {
	return New(CodeViolation, fmt.Sprintf("%d conjecture violation(s) detected", count))
}
