package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/logging"
	"github.com/smazurov/posenode/internal/process"
)

// ErrWorkerExited is returned by Infer once the worker process is gone.
var ErrWorkerExited = errors.New("inference worker exited")

// workerModel runs inference in a long-lived subprocess. Requests are
// serialised; a response whose seq does not match the outstanding request
// belongs to a request that already timed out and is dropped.
type workerModel struct {
	cfg    Config
	desc   Description
	codec  codec
	proc   *process.Process
	logger *slog.Logger

	mu      sync.Mutex // one request in flight
	results chan message
	exited  chan struct{}
	exitErr error
	broken  bool

	closeOnce sync.Once
}

func loadWorker(ctx context.Context, cfg Config, logger *slog.Logger) (*workerModel, error) {
	if cfg.Command == "" {
		return nil, errors.New("worker command is required")
	}
	c, err := newCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	command := expandCommand(cfg)
	proc, err := process.Start(context.WithoutCancel(ctx), process.Options{
		ID:           "inference",
		Command:      command,
		Logger:       logger,
		OutputLogger: logging.GetLogger("worker"),
		LogParser:    ParseWorkerLogLevel,
		Stdin:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	m := &workerModel{
		cfg:     cfg,
		codec:   c,
		proc:    proc,
		logger:  logger,
		results: make(chan message, 1),
		exited:  make(chan struct{}),
		desc: Description{
			ModelID:     cfg.ModelID,
			Engine:      cfg.Engine,
			Accelerator: cfg.Accelerator,
		},
	}

	ready := make(chan message, 1)
	go m.readLoop(ready)

	loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	defer cancel()

	select {
	case msg := <-ready:
		if msg.Error != "" {
			m.Close()
			return nil, fmt.Errorf("worker failed to load model: %s", msg.Error)
		}
		m.applyReady(msg)
	case <-m.exited:
		m.Close()
		return nil, fmt.Errorf("worker exited before ready: %w", m.exitErr)
	case <-loadCtx.Done():
		m.Close()
		return nil, fmt.Errorf("waiting for worker ready: %w", loadCtx.Err())
	}

	logger.Info("Inference worker ready", "pid", proc.PID(), "model", m.desc.ModelID, "engine", m.desc.Engine, "accelerator", m.desc.Accelerator)
	return m, nil
}

// applyReady lets the worker report what it actually loaded.
func (m *workerModel) applyReady(msg message) {
	if msg.ModelID != "" {
		m.desc.ModelID = msg.ModelID
	}
	if msg.Engine != "" {
		m.desc.Engine = msg.Engine
	}
	if msg.Accelerator != "" {
		m.desc.Accelerator = msg.Accelerator
	}
	m.desc.Version = msg.Version
}

func (m *workerModel) readLoop(ready chan<- message) {
	defer close(m.exited)

	r := bufio.NewReaderSize(m.proc.Stdout(), 256*1024)
	handshake := true
	for {
		var msg message
		if err := m.codec.Read(r, &msg); err != nil {
			m.exitErr = err
			return
		}

		switch {
		case handshake && (msg.Type == msgReady || msg.Type == msgError):
			handshake = false
			ready <- msg
		case msg.Type == msgResult || msg.Type == msgError:
			select {
			case m.results <- msg:
			default:
				m.logger.Warn("Dropping unclaimed worker response", "seq", msg.Seq)
			}
		default:
			m.logger.Debug("Ignoring worker message", "type", msg.Type)
		}
	}
}

// Infer implements Model.
func (m *workerModel) Infer(ctx context.Context, frame capture.Frame) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return Result{}, ErrWorkerExited
	}
	select {
	case <-m.exited:
		return Result{}, fmt.Errorf("%w: %v", ErrWorkerExited, m.exitErr)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.InferTimeout)
	defer cancel()

	start := time.Now()
	if err := m.send(ctx, request{
		Type:   msgInfer,
		Seq:    frame.Seq,
		Width:  frame.Width,
		Height: frame.Height,
		JPEG:   frame.JPEG,
	}); err != nil {
		return Result{}, err
	}

	for {
		select {
		case msg := <-m.results:
			if msg.Seq != frame.Seq {
				continue
			}
			if msg.Error != "" {
				return Result{}, fmt.Errorf("worker: %s", msg.Error)
			}
			d := time.Duration(msg.DurationMs * float64(time.Millisecond))
			if d <= 0 {
				d = time.Since(start)
			}
			return Result{Poses: msg.poses(), Duration: d}, nil
		case <-m.exited:
			return Result{}, fmt.Errorf("%w: %v", ErrWorkerExited, m.exitErr)
		case <-ctx.Done():
			return Result{}, fmt.Errorf("inference for frame %d: %w", frame.Seq, ctx.Err())
		}
	}
}

// send writes a request, giving up after ctx. A write that cannot complete
// leaves the stream in an unknown state, so the worker is marked broken.
func (m *workerModel) send(ctx context.Context, req request) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.codec.Write(m.proc.Stdin(), req)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			m.broken = true
			return fmt.Errorf("write to worker: %w", err)
		}
		return nil
	case <-ctx.Done():
		m.broken = true
		m.logger.Error("Worker stdin write timed out, stopping worker")
		go m.Close()
		return fmt.Errorf("write to worker: %w", ctx.Err())
	}
}

func (m *workerModel) Describe() Description {
	return m.desc
}

// Close stops the worker. Closing stdin asks it to exit; SIGINT and SIGKILL follow.
func (m *workerModel) Close() error {
	m.closeOnce.Do(func() {
		code := m.proc.Stop()
		<-m.exited
		m.logger.Debug("Inference worker stopped", "exit_code", code)
	})
	return nil
}

func expandCommand(cfg Config) string {
	return strings.NewReplacer(
		"{model}", cfg.ModelID,
		"{engine}", cfg.Engine,
		"{accelerator}", cfg.Accelerator,
		"{codec}", cfg.Codec,
	).Replace(cfg.Command)
}

// ParseWorkerLogLevel maps Python-style log prefixes ("[ERROR] msg",
// "WARNING:root:msg") onto process log levels.
func ParseWorkerLogLevel(line string) (level, msg string) {
	var prefix, rest string
	if strings.HasPrefix(line, "[") {
		p, r, ok := strings.Cut(line[1:], "]")
		if !ok {
			return "info", line
		}
		prefix, rest = p, strings.TrimSpace(r)
	} else {
		p, r, ok := strings.Cut(line, ":")
		if !ok {
			return "info", line
		}
		prefix, rest = p, r
		// drop the logger name of "LEVEL:name:msg"
		if name, tail, found := strings.Cut(r, ":"); found && !strings.ContainsAny(name, " \t") {
			rest = tail
		}
	}

	switch strings.ToUpper(prefix) {
	case "CRITICAL", "FATAL":
		return "fatal", rest
	case "ERROR":
		return "error", rest
	case "WARNING", "WARN":
		return "warning", rest
	case "INFO":
		return "info", rest
	case "DEBUG":
		return "debug", rest
	}
	return "info", line
}
