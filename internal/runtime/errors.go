package runtime

import (
	"errors"
	"fmt"
)

// Submission rejections. Nothing is appended and no round starts.
var (
	ErrEmptyInput  = errors.New("empty input")
	ErrBusy        = errors.New("a request is already in progress")
	ErrUnavailable = errors.New("agent unavailable")
	ErrClosed      = errors.New("session closed")
)

// ConfigurationError means the model session could not be opened. The
// session stays inert.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("open model session: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError is a failed or timed-out gateway call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a round the controller cannot act on, such as calls
// without IDs or a result set the gateway refused.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
