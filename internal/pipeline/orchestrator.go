package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/inference"
	"github.com/smazurov/posenode/internal/metrics"
	"github.com/smazurov/posenode/internal/sink"
)

// Orchestrator defaults.
const (
	DefaultStartDelay  = 3 * time.Second
	DefaultJoinTimeout = 10 * time.Second
)

// Config configures the whole pipeline.
type Config struct {
	Source    SourceConfig
	Publisher PublisherConfig
	// QueueCapacity of 0 is unbounded, see FrameQueue.
	QueueCapacity int
	// StartDelay is the wait between starting capture and starting the publisher.
	StartDelay  time.Duration
	JoinTimeout time.Duration
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	OpenDevice DeviceOpener
	Loader     inference.Loader
	Display    Display
	Sink       sink.Sink
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Status is a snapshot for status endpoints.
type Status struct {
	State          State                 `json:"state" doc:"Pipeline state"`
	Reason         string                `json:"reason,omitempty" doc:"Why shutdown was requested"`
	Model          inference.Description `json:"model" doc:"Loaded model"`
	FPS            float64               `json:"fps" doc:"Rolling capture throughput"`
	InferenceMs    float64               `json:"inference_ms" doc:"Duration of the latest inference"`
	QueueDepth     int                   `json:"queue_depth" doc:"Frames waiting for the publisher"`
	QueueDropped   uint64                `json:"queue_dropped" doc:"Frames evicted by queue overflow"`
	RecordsWritten uint64                `json:"records_written" doc:"Records accepted by the sink"`
	RecordsFailed  uint64                `json:"records_failed" doc:"Failed record writes"`
}

// Orchestrator starts both loops, waits for shutdown and stops them in order.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	signal *ShutdownSignal
	queue  *FrameQueue
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	source    *Source
	publisher *Publisher
}

// NewOrchestrator creates an orchestrator in the starting state.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.StartDelay < 0 {
		cfg.StartDelay = 0
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Display == nil {
		deps.Display = NopDisplay{}
	}
	if deps.Sink == nil {
		deps.Sink = sink.NewLog(deps.Logger)
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		signal: NewShutdownSignal(),
		queue:  NewFrameQueue(cfg.QueueCapacity),
		logger: deps.Logger,
		state:  StateStarting,
	}
}

// Signal returns the shutdown signal shared by both loops.
func (o *Orchestrator) Signal() *ShutdownSignal {
	return o.signal
}

// Stop requests shutdown from any goroutine. It reports whether this call
// was the first request.
func (o *Orchestrator) Stop(reason Reason) bool {
	return o.signal.Trigger(reason, nil)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns a snapshot of the pipeline.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		State:        o.state,
		Reason:       string(o.signal.Reason()),
		QueueDepth:   o.queue.Len(),
		QueueDropped: o.queue.Dropped(),
	}
	if o.source != nil {
		st.Model = o.source.Describe()
		st.FPS = o.source.FPS()
		st.InferenceMs = float64(o.source.LastInference()) / float64(time.Millisecond)
	}
	if o.publisher != nil {
		st.RecordsWritten = o.publisher.Written()
		st.RecordsFailed = o.publisher.Failed()
	}
	return st
}

// Run runs the pipeline until ctx is cancelled or the signal fires. It
// returns the initialization error, the source failure that stopped the
// pipeline, or nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(StateStarting)
	defer o.closeSink()

	src, err := OpenSource(ctx, o.cfg.Source, SourceDeps{
		OpenDevice: o.deps.OpenDevice,
		Loader:     o.deps.Loader,
		Display:    o.deps.Display,
		Signal:     o.signal,
		Bus:        o.deps.Bus,
		Logger:     o.logger,
	})
	if err != nil {
		o.logger.Error("Pipeline initialization failed", "error", err)
		o.signal.Trigger(ReasonSourceFailure, err)
		o.finish()
		return err
	}

	pub := NewPublisher(o.cfg.Publisher, o.queue, o.deps.Sink, o.signal, o.deps.Bus, o.logger)

	o.mu.Lock()
	o.source = src
	o.publisher = pub
	o.mu.Unlock()

	sourceDone := make(chan struct{})
	go func() {
		defer close(sourceDone)
		_ = src.Run(ctx, o.queue)
	}()

	select {
	case <-time.After(o.cfg.StartDelay):
	case <-o.signal.Done():
	case <-ctx.Done():
	}

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		pub.Run(ctx)
	}()

	if !o.signal.Requested() && ctx.Err() == nil {
		o.setState(StateRunning)
	}

	select {
	case <-ctx.Done():
		o.signal.Trigger(ReasonInterrupt, nil)
	case <-o.signal.Done():
	}

	o.setState(StateStopRequested)
	o.join("source", sourceDone)
	o.join("publisher", publisherDone)

	return o.finish()
}

func (o *Orchestrator) join(name string, done <-chan struct{}) {
	select {
	case <-done:
		o.logger.Debug("Loop stopped", "loop", name)
	case <-time.After(o.cfg.JoinTimeout):
		o.logger.Warn("Loop did not stop in time, abandoning it", "loop", name, "timeout", o.cfg.JoinTimeout)
	}
}

func (o *Orchestrator) finish() error {
	if n := o.queue.Close(); n > 0 {
		metrics.AddQueueDiscarded(n)
		o.logger.Info("Discarded queued frames at shutdown", "frames", n)
	}
	o.signal.Acknowledge()
	o.setState(StateStopped)

	if o.signal.Reason() == ReasonSourceFailure {
		return o.signal.Cause()
	}
	return nil
}

func (o *Orchestrator) closeSink() {
	if err := o.deps.Sink.Close(); err != nil {
		o.logger.Warn("Failed to close sink", "error", err)
	}
}

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	o.mu.Unlock()

	reason := string(o.signal.Reason())
	if prev == next && next == StateStarting {
		prev = ""
	}
	o.logger.Info("Pipeline state changed", "state", next, "previous", prev, "reason", reason)
	metrics.SetPipelineState(string(next), AllStates())
	o.deps.Bus.Publish(events.PipelineStateEvent{
		State:     string(next),
		Previous:  string(prev),
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
