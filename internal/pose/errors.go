package pose

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors by how the pipeline reacts to them.
type Kind string

// Error kinds.
const (
	// KindInitialization: device or model could not be acquired. Fatal at startup.
	KindInitialization Kind = "INITIALIZATION"
	// KindInference: a single frame failed inference. Frame is skipped.
	KindInference Kind = "INFERENCE"
	// KindDeviceRead: the capture device stopped delivering frames. Triggers shutdown.
	KindDeviceRead Kind = "DEVICE_READ"
	// KindSinkWrite: a record could not be written. Logged, not retried.
	KindSinkWrite Kind = "SINK_WRITE"
)

// Fatal reports whether errors of this kind stop the pipeline.
func (k Kind) Fatal() bool {
	return k == KindInitialization || k == KindDeviceRead
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates a classified error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
