// Package sink writes pose records to time-series stores and message buses.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/posenode/internal/metrics"
	"github.com/smazurov/posenode/internal/pose"
)

// DefaultMeasurement is the measurement pose records are written to.
const DefaultMeasurement = "mmbox_video_pose"

// Record is one time-series row: every subject of a frame at one timestamp.
type Record struct {
	Measurement string
	Time        time.Time
	Fields      pose.Frame
	Tags        map[string]string
}

// Sink accepts pose records. WriteRecord must honour ctx.
type Sink interface {
	WriteRecord(ctx context.Context, rec Record) error
	Close() error
}

// Multi writes every record to each sink in order.
type Multi []Sink

// WriteRecord writes to all sinks and joins their errors.
func (m Multi) WriteRecord(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// instrumented counts results per sink name.
type instrumented struct {
	name string
	next Sink
}

// Instrument wraps s so every write is counted under name.
func Instrument(name string, s Sink) Sink {
	return &instrumented{name: name, next: s}
}

func (i *instrumented) WriteRecord(ctx context.Context, rec Record) error {
	if err := i.next.WriteRecord(ctx, rec); err != nil {
		metrics.IncRecords(i.name, "error")
		return err
	}
	metrics.IncRecords(i.name, "ok")
	return nil
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

// Log writes records to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a sink that logs each record at info level.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// WriteRecord logs the record.
func (l *Log) WriteRecord(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info("Pose record",
		"measurement", rec.Measurement,
		"time", rec.Time.Format(time.RFC3339Nano),
		"subjects", len(rec.Fields),
		"frame", rec.Fields.String())
	return nil
}

// Close is a no-op.
func (l *Log) Close() error { return nil }
