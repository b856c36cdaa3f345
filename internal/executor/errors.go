package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/match-orchestrator/internal/prompts"
	"github.com/jonathan/match-orchestrator/internal/schemas"
)

// TemplateError is returned before any network call when a template is
// unknown or a placeholder has no value.
type TemplateError = prompts.TemplateError

// TransportError represents a failed call to the completion endpoint
type TransportError struct {
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion call failed (status %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("completion call failed: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents a completion call that exceeded its per-call timeout
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("completion call timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a reply that does not match the template's declared shape
type ValidationError struct {
	Message string
	Fields  []schemas.FieldError
	Cause   error
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid reply: ")
	sb.WriteString(e.Message)
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("; %s: %s", f.Field, f.Message))
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether another attempt could succeed.
// Template errors and caller cancellation are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var tmplErr *TemplateError
	if errors.As(err, &tmplErr) {
		return false
	}

	var transportErr *TransportError
	var timeoutErr *TimeoutError
	var validationErr *ValidationError
	return errors.As(err, &transportErr) || errors.As(err, &timeoutErr) || errors.As(err, &validationErr)
}

// IsTemplateError reports whether err is or wraps a *TemplateError.
func IsTemplateError(err error) bool {
	var tmplErr *TemplateError
	return errors.As(err, &tmplErr)
}

// Kind returns a short label for the error class, used in logs and metrics.
func Kind(err error) string {
	var (
		tmplErr       *TemplateError
		timeoutErr    *TimeoutError
		transportErr  *TransportError
		validationErr *ValidationError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &tmplErr):
		return "template"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
