// Package inference loads pose-estimation models and runs them on captured
// frames.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/pose"
)

// Runtime names.
const (
	RuntimeWorker    = "worker"
	RuntimeSynthetic = "synthetic"
)

// Default timeouts.
const (
	DefaultLoadTimeout  = 60 * time.Second
	DefaultInferTimeout = 5 * time.Second
)

// Config describes which model to load and where to run it.
type Config struct {
	// Runtime selects the implementation: "worker" or "synthetic".
	Runtime string
	ModelID string
	// Engine and Accelerator are handed to the runtime, e.g. "openvino"/"gpu"
	// or "dnn"/"cpu".
	Engine      string
	Accelerator string
	// Command is the worker command line. {model}, {engine}, {accelerator}
	// and {codec} are substituted.
	Command string
	// Codec is the worker wire format: "json" or "msgpack".
	Codec        string
	LoadTimeout  time.Duration
	InferTimeout time.Duration
}

func (c Config) String() string {
	return fmt.Sprintf("runtime=%s model=%s engine=%s accelerator=%s", c.Runtime, c.ModelID, c.Engine, c.Accelerator)
}

// LogValue groups the config in structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("runtime", c.Runtime),
		slog.String("model", c.ModelID),
		slog.String("engine", c.Engine),
		slog.String("accelerator", c.Accelerator),
	)
}

// WithEngine returns a copy of c that runs on a different engine and accelerator.
func (c Config) WithEngine(engine, accelerator string) Config {
	c.Engine = engine
	c.Accelerator = accelerator
	return c
}

func (c Config) withDefaults() Config {
	if c.Runtime == "" {
		c.Runtime = RuntimeWorker
	}
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.InferTimeout <= 0 {
		c.InferTimeout = DefaultInferTimeout
	}
	return c
}

// Description identifies a loaded model.
type Description struct {
	ModelID     string `json:"model_id"`
	Engine      string `json:"engine"`
	Accelerator string `json:"accelerator"`
	Version     string `json:"version,omitempty"`
}

// Result is the output of one inference.
type Result struct {
	Poses    []pose.Pose
	Duration time.Duration
}

// Model runs pose estimation on frames.
type Model interface {
	Infer(ctx context.Context, frame capture.Frame) (Result, error)
	Describe() Description
	Close() error
}

// Loader loads models.
type Loader interface {
	Load(ctx context.Context, cfg Config) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, cfg Config) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, cfg Config) (Model, error) {
	return f(ctx, cfg)
}

// RuntimeLoader dispatches to the runtime named in the config.
type RuntimeLoader struct {
	logger *slog.Logger
}

// NewLoader returns the default loader.
func NewLoader(logger *slog.Logger) *RuntimeLoader {
	return &RuntimeLoader{logger: logger}
}

// Load implements Loader.
func (l *RuntimeLoader) Load(ctx context.Context, cfg Config) (Model, error) {
	cfg = cfg.withDefaults()
	switch cfg.Runtime {
	case RuntimeWorker:
		return loadWorker(ctx, cfg, l.logger)
	case RuntimeSynthetic:
		return newSynthetic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference runtime %q", cfg.Runtime)
	}
}
