package testutil

import (
	"errors"
	"fmt"

	"github.com/udisondev/shortid/internal/resolver"
)

// ErrSimulated is a sentinel error for testing error handling paths
var ErrSimulated = errors.New("simulated error for testing")

// TransientError returns a fault the resolver retries on the same session.
func TransientError(msg string) error {
	return fmt.Errorf("%w: %s: %w", resolver.ErrTransient, msg, ErrSimulated)
}

// ConnectionError returns a fault that makes the resolver reconnect.
func ConnectionError(msg string) error {
	return fmt.Errorf("%w: %s: %w", resolver.ErrConnection, msg, ErrSimulated)
}
