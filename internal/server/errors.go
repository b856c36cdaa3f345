// Package server provides the HTTP API for scoring and tailoring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/match-orchestrator/internal/pipeline"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// validationError converts a validator failure into an *ErrValidation naming
// every failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, fe.Field()+" failed "+msg)
	}
	return &ErrValidation{Field: strings.Join(fields, ", "), Message: strings.Join(msgs, "; ")}
}

// HTTPStatus returns the appropriate HTTP status code for an error. Template
// errors and anything unclassified are internal errors.
func HTTPStatus(err error) int {
	var verr *ErrValidation
	switch {
	case errors.As(err, &verr), pipeline.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrAnonymous):
		return http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrNoProfile), errors.Is(err, pipeline.ErrNoJob):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrCacheDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable code sent alongside the message.
func errorCode(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusUnprocessableEntity:
		return "missing_saved_input"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return "canceled"
	default:
		return "internal_error"
	}
}

// publicMessage hides internal failure detail from callers.
func publicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
