package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/poiesic/newsrag/core"
)

// IsTransient reports whether err is worth retrying: anything marked
// core.ErrTransientExternal, timeouts, and dropped or refused connections.
// Cancellation by the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, core.ErrTransientExternal) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsStoreRetryable extends IsTransient with store outages, which the
// ingestion pipeline retries with backoff.
func IsStoreRetryable(err error) bool {
	return IsTransient(err) || errors.Is(err, core.ErrStoreUnavailable)
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, core.ErrTransientExternal) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrTransientExternal, err)
}
