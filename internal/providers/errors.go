package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Sentinel errors for backend transport failures. Both are retryable from the
// caller's point of view; the loop itself never retries.
var (
	// ErrTimeout marks an upstream call that exceeded its deadline.
	ErrTimeout = errors.New("upstream timeout")
	// ErrConnReset marks a connection dropped by the upstream mid-request.
	ErrConnReset = errors.New("upstream connection reset")
)

// StatusError is a non-200 response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// IsRetryable reports whether the caller may reasonably retry the request.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnReset) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	return false
}

// classifyTransportError maps low-level client errors onto the sentinel
// taxonomy, wrapping so the original cause stays inspectable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		strings.Contains(err.Error(), "connection reset") {
		return fmt.Errorf("%w: %v", ErrConnReset, err)
	}
	return fmt.Errorf("upstream request failed: %w", err)
}
