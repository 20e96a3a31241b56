// internal/app/system/directory/errors.go
package directory

import (
	"errors"
	"fmt"
)

// RetryableError marks a directory call that failed for a reason worth
// retrying on a later outbox tick: network trouble, rate limiting, server
// errors, or any response the adapter cannot classify as idempotent
// success.
type RetryableError struct {
	Op         string // "grant" | "revoke" | "list"
	ResourceID string
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("directory %s %s: status %d: %v", e.Op, e.ResourceID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("directory %s %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable directory failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
