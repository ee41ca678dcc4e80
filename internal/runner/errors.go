package runner

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is returned when a record is pushed after the result
// channel has been closed.
var ErrChannelClosed = errors.New("result channel closed")

// ConfigurationError reports a topology that cannot be run: an invalid
// group definition or a transaction source that does not resolve.
type ConfigurationError struct {
	Group  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Group != "" {
		msg = fmt.Sprintf("group %q: %s", e.Group, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ResourceError reports a unit (group or worker slot) that could not be
// started. It is fatal to that unit only.
type ResourceError struct {
	Group  string
	Worker int // -1 when the whole group failed
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Worker < 0 {
		return fmt.Sprintf("group %q could not start: %v", e.Group, e.Err)
	}
	return fmt.Sprintf("group %q worker %d could not start: %v", e.Group, e.Worker, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
