package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// maxSinkFailures is how many records in a row a sink may reject before
// MultiHandler stops using it. journald going away mid-run is the usual cause.
const maxSinkFailures = 3

// logSink is one output of a MultiHandler. Its failure counters are shared by
// every handler derived through WithAttrs/WithGroup.
type logSink struct {
	name     string
	failures atomic.Int32
	disabled atomic.Bool
}

type sinkHandler struct {
	slog.Handler
	sink *logSink
}

// MultiHandler writes each record to stdout and, when present, the journal.
// A sink that fails maxSinkFailures records in a row is dropped and the
// remaining sinks get one warning about it.
type MultiHandler struct {
	handlers []sinkHandler
}

// NewMultiHandler creates a handler writing to all provided handlers. The
// journal handler is named "journal" in the drop warning, others "stdout".
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	m := &MultiHandler{handlers: make([]sinkHandler, len(handlers))}
	for i, h := range handlers {
		name := "stdout"
		if _, ok := h.(*JournalHandler); ok {
			name = "journal"
		}
		m.handlers[i] = sinkHandler{Handler: h, sink: &logSink{name: name}}
	}
	return m
}

// Enabled implements slog.Handler.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if !h.sink.disabled.Load() && h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler. Errors from all sinks are joined.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.sink.disabled.Load() || !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
			if h.sink.failures.Add(1) >= maxSinkFailures && h.sink.disabled.CompareAndSwap(false, true) {
				m.reportDropped(ctx, h.sink, err)
			}
			continue
		}
		h.sink.failures.Store(0)
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) reportDropped(ctx context.Context, dropped *logSink, cause error) {
	r := slog.NewRecord(time.Now(), slog.LevelWarn, "Log output disabled after repeated failures", 0)
	r.AddAttrs(slog.String("output", dropped.name), slog.String("error", cause.Error()))
	for _, h := range m.handlers {
		if h.sink != dropped && !h.sink.disabled.Load() && h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
}

// WithAttrs implements slog.Handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	handlers := make([]sinkHandler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = sinkHandler{Handler: fn(h.Handler), sink: h.sink}
	}
	return &MultiHandler{handlers: handlers}
}
