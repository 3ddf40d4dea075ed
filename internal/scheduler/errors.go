package scheduler

import (
	"errors"
	"fmt"
)

// ErrNotWarm is returned by serving calls made before Warmup.
var ErrNotWarm = errors.New("scheduler not warmed up")

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// variantNotFoundError signals a length (and prompt count) combination that
// warm-up never compiled. Variants are never built lazily while serving.
type variantNotFoundError struct {
	length     int
	numPrompts int
}

func (e variantNotFoundError) Error() string {
	if e.numPrompts > 0 {
		return fmt.Sprintf("batched prefill variant not found: length=%d num_prompts=%d", e.length, e.numPrompts)
	}
	return fmt.Sprintf("prefill variant not found: length=%d", e.length)
}

// IsVariantNotFound reports whether err indicates a missing compiled variant.
func IsVariantNotFound(err error) bool {
	var e variantNotFoundError
	return errors.As(err, &e)
}

// consumerFaultError reports a panic in the emission loop, usually raised by
// a caller's emit callback. The run is abandoned and partial results dropped.
type consumerFaultError struct {
	value any
	stack []byte
}

func (e consumerFaultError) Error() string {
	return fmt.Sprintf("emission loop fault: %v", e.value)
}

// Stack returns the goroutine stack captured at the fault.
func (e consumerFaultError) Stack() []byte { return e.stack }

// IsConsumerFault reports whether err came from a faulted emission loop.
func IsConsumerFault(err error) bool {
	var e consumerFaultError
	return errors.As(err, &e)
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
