package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Reason says why shutdown was requested.
type Reason string

// Shutdown reasons.
const (
	ReasonInterrupt     Reason = "interrupt"
	ReasonViewerExit    Reason = "viewer_exit"
	ReasonSourceFailure Reason = "source_failure"
	ReasonRemote        Reason = "remote"
)

// ErrShutdown is the cancellation cause of contexts derived from a ShutdownSignal.
var ErrShutdown = errors.New("pipeline shutdown requested")

// ShutdownSignal moves from running to stop-requested to stopped and never
// back. The first Trigger wins.
type ShutdownSignal struct {
	once      sync.Once
	requested atomic.Bool
	stopped   atomic.Bool
	done      chan struct{}

	reason Reason
	cause  error
}

// NewShutdownSignal creates a signal in the running state.
func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{done: make(chan struct{})}
}

// Trigger requests shutdown. It reports whether this call set the signal.
func (s *ShutdownSignal) Trigger(reason Reason, cause error) bool {
	fired := false
	s.once.Do(func() {
		s.reason = reason
		s.cause = cause
		s.requested.Store(true)
		close(s.done)
		fired = true
	})
	return fired
}

// Requested reports whether shutdown was requested.
func (s *ShutdownSignal) Requested() bool {
	return s.requested.Load()
}

// Done is closed when shutdown is requested.
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.done
}

// Reason returns the first trigger's reason, or "" while running.
func (s *ShutdownSignal) Reason() Reason {
	if !s.requested.Load() {
		return ""
	}
	return s.reason
}

// Cause returns the error passed with the first trigger.
func (s *ShutdownSignal) Cause() error {
	if !s.requested.Load() {
		return nil
	}
	return s.cause
}

// Acknowledge marks the pipeline stopped. It implies a request.
func (s *ShutdownSignal) Acknowledge() {
	s.Trigger(ReasonInterrupt, nil)
	s.stopped.Store(true)
}

// Stopped reports whether Acknowledge was called.
func (s *ShutdownSignal) Stopped() bool {
	return s.stopped.Load()
}

// Context returns a child of parent that is cancelled with ErrShutdown when
// the signal fires.
func (s *ShutdownSignal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-s.done:
			cancel(ErrShutdown)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}
