package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrImmutableField = errors.New("immutable field changed")
	ErrCorruptRecord  = errors.New("corrupt record")
)

// ContentionError reports a read-modify-write that kept conflicting with
// concurrent writers. It is transient: callers retry at a higher layer or
// abandon the operation, never treat it as success.
type ContentionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ContentionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("store contention on %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ContentionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsContention reports whether err is (or wraps) a ContentionError.
func IsContention(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce)
}
