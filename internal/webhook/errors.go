package webhook

import (
	"fmt"
	"time"
)

// ValidationError reports malformed registration input or a missing secret.
// It is returned synchronously to the caller of registry operations.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OpenError is returned by a breaker in the open state without invoking the
// call. It carries the remaining wait before the next probe is allowed and is
// excluded from retry accounting.
type OpenError struct {
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

// DeliveryError is a retryable delivery failure: either a non-2xx response or
// a transport error. It never escapes the dispatcher; it ends up in the
// DeliveryRecord's error field.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery failed: endpoint returned %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
