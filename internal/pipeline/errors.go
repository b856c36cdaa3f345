package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProfile is returned when a score request omits the profile and the
	// user has no saved default profile.
	ErrNoProfile = errors.New("no candidate profile given and no default profile saved")
	// ErrNoJob is returned when a request omits the job posting and the user
	// has no current job.
	ErrNoJob = errors.New("no job posting given and no current job set")
	// ErrAnonymous is returned for per-user operations without a user id.
	ErrAnonymous = errors.New("operation requires an authenticated user")
	// ErrCacheDisabled is returned when saving state without a configured cache.
	ErrCacheDisabled = errors.New("result cache is disabled")
)

// InputError reports an invalid request field.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	var inputErr *InputError
	return errors.As(err, &inputErr) ||
		errors.Is(err, ErrNoProfile) ||
		errors.Is(err, ErrNoJob) ||
		errors.Is(err, ErrAnonymous)
}
