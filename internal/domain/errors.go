package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no API key is set for the credential service.
	// Callers should not retry.
	ErrNotConfigured  = errors.New("relay credential service not configured")
	ErrTimeout        = errors.New("credential fetch timed out")
	ErrServiceError   = errors.New("credential service error")
	ErrInvalidPayload = errors.New("invalid credential payload")
)

// FetchError carries the failure kind (one of the sentinels above), the
// HTTP status for service errors (0 when the service was unreachable) and
// the underlying cause.
type FetchError struct {
	Kind   error
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether a later call could succeed where this one failed.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrNotConfigured)
}
