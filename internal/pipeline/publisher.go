package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/pose"
	"github.com/smazurov/posenode/internal/sink"
)

// Publisher defaults.
const (
	DefaultPeriod       = 5 * time.Second
	DefaultDrainGrace   = 250 * time.Millisecond
	DefaultWriteTimeout = 10 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// PublisherConfig configures the publish loop.
type PublisherConfig struct {
	Period time.Duration
	// PopTimeout bounds the wait for a frame after each period. Defaults to Period.
	PopTimeout   time.Duration
	DrainGrace   time.Duration
	WriteTimeout time.Duration
	// DrainTimeout bounds the final write after shutdown was requested.
	DrainTimeout time.Duration
	Measurement  string
	Tags         map[string]string
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = c.Period
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.Measurement == "" {
		c.Measurement = sink.DefaultMeasurement
	}
	return c
}

// Publisher samples the queue once per period and writes non-empty frames.
type Publisher struct {
	cfg    PublisherConfig
	queue  *FrameQueue
	sink   sink.Sink
	signal *ShutdownSignal
	bus    *events.Bus
	logger *slog.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewPublisher creates a publisher. The sink is not closed by the publisher.
func NewPublisher(cfg PublisherConfig, queue *FrameQueue, s sink.Sink, signal *ShutdownSignal, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg.withDefaults(),
		queue:  queue,
		sink:   s,
		signal: signal,
		bus:    bus,
		logger: logger,
	}
}

// Written returns the number of records the sink accepted.
func (p *Publisher) Written() uint64 { return p.written.Load() }

// Failed returns the number of failed writes.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Run loops until the signal fires or ctx is done, then drains at most one
// frame and returns.
func (p *Publisher) Run(ctx context.Context) {
	loopCtx, cancel := p.signal.Context(ctx)
	defer cancel()

	p.logger.Debug("Publisher started", "period", p.cfg.Period, "measurement", p.cfg.Measurement)

	for {
		if loopCtx.Err() != nil || p.signal.Requested() {
			p.drain(ctx)
			return
		}

		if !sleep(loopCtx, p.cfg.Period) {
			continue
		}

		frame, ok := p.queue.Pop(loopCtx.Done(), p.cfg.PopTimeout)
		if !ok {
			continue
		}
		p.publish(loopCtx, frame, p.cfg.WriteTimeout)
	}
}

func (p *Publisher) drain(ctx context.Context) {
	time.Sleep(p.cfg.DrainGrace)

	frame, ok := p.queue.Pop(nil, 0)
	if ok {
		p.publish(context.WithoutCancel(ctx), frame, p.cfg.DrainTimeout)
	}
	p.logger.Debug("Publisher stopped", "written", p.Written(), "failed", p.Failed())
}

func (p *Publisher) publish(ctx context.Context, frame pose.Frame, timeout time.Duration) {
	if frame.Empty() {
		return
	}

	rec := sink.Record{
		Measurement: p.cfg.Measurement,
		Time:        time.Now(),
		Fields:      frame,
		Tags:        p.cfg.Tags,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.sink.WriteRecord(ctx, rec); err != nil {
		perr := pose.NewError(pose.KindSinkWrite, "write record", rec.Measurement, err)
		p.failed.Add(1)
		p.logger.Error("Failed to write pose record", "error", perr, "subjects", len(frame))
		p.bus.Publish(events.SinkErrorEvent{
			Measurement: rec.Measurement,
			Error:       err.Error(),
			Timestamp:   rec.Time.Format(time.RFC3339),
		})
		return
	}

	p.written.Add(1)
	p.logger.Info("Wrote pose record", "measurement", rec.Measurement, "subjects", rec.Fields.Subjects())
	p.bus.Publish(events.RecordWrittenEvent{
		Measurement: rec.Measurement,
		Subjects:    rec.Fields.Subjects(),
		Timestamp:   rec.Time.Format(time.RFC3339Nano),
	})
}

// sleep waits d. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
