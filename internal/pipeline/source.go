package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/inference"
	"github.com/smazurov/posenode/internal/metrics"
	"github.com/smazurov/posenode/internal/pose"
)

// ErrEndOfStream ends the capture loop without an error.
var ErrEndOfStream = errors.New("end of stream")

// DefaultThreshold is the minimum pose score, exclusive, on the engine's raw scale.
const DefaultThreshold = 20.0

// Fallback engine used when the primary model cannot be loaded or probed.
const (
	FallbackEngine      = "dnn"
	FallbackAccelerator = "cpu"
)

// DeviceOpener opens a capture device.
type DeviceOpener func(ctx context.Context, cfg capture.Config) (capture.Device, error)

// SourceConfig configures the capture and inference stage.
type SourceConfig struct {
	Capture capture.Config
	Model   inference.Config
	// Fallback is loaded once if Model fails. The zero value means Model on
	// the dnn engine and cpu accelerator.
	Fallback  inference.Config
	Threshold float64
}

func (c SourceConfig) fallback() inference.Config {
	if c.Fallback == (inference.Config{}) {
		return c.Model.WithEngine(FallbackEngine, FallbackAccelerator)
	}
	return c.Fallback
}

// SourceDeps are the collaborators of a Source. Only Loader is required.
type SourceDeps struct {
	OpenDevice DeviceOpener
	Loader     inference.Loader
	Display    Display
	Signal     *ShutdownSignal
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Source produces one pose frame per captured image.
type Source struct {
	cfg     SourceConfig
	device  capture.Device
	model   inference.Model
	desc    inference.Description
	display Display
	signal  *ShutdownSignal
	bus     *events.Bus
	logger  *slog.Logger
	fps     *metrics.Throughput

	lastInference atomic.Int64
	closeOnce     sync.Once
}

// OpenSource opens the device, loads the model and probes it on the first
// frame. A failed load or probe is retried once with the fallback config.
func OpenSource(ctx context.Context, cfg SourceConfig, deps SourceDeps) (*Source, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Loader == nil {
		return nil, pose.Errorf(pose.KindInitialization, "open source", "no model loader")
	}
	open := deps.OpenDevice
	if open == nil {
		open = func(ctx context.Context, c capture.Config) (capture.Device, error) {
			return capture.Open(ctx, c, logger)
		}
	}
	if deps.Display == nil {
		deps.Display = NopDisplay{}
	}
	if deps.Signal == nil {
		deps.Signal = NewShutdownSignal()
	}

	device, err := open(ctx, cfg.Capture)
	if err != nil {
		return nil, pose.NewError(pose.KindInitialization, "open device", cfg.Capture.Device, err)
	}

	probe, err := device.ReadFrame(ctx)
	if err != nil {
		device.Close()
		return nil, pose.NewError(pose.KindInitialization, "read probe frame", cfg.Capture.Device, err)
	}

	model, err := loadAndProbe(ctx, deps.Loader, cfg.Model, probe)
	if err != nil {
		fallback := cfg.fallback()
		logger.Warn("Model failed, loading fallback", "attempted", cfg.Model, "fallback", fallback, "error", err)

		var fbErr error
		model, fbErr = loadAndProbe(ctx, deps.Loader, fallback, probe)
		if fbErr != nil {
			device.Close()
			return nil, pose.NewError(pose.KindInitialization, "load model",
				fmt.Sprintf("primary (%s) and fallback (%s) both failed", cfg.Model, fallback),
				errors.Join(err, fbErr))
		}
	}

	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}

	s := &Source{
		cfg:     cfg,
		device:  device,
		model:   model,
		desc:    model.Describe(),
		display: deps.Display,
		signal:  deps.Signal,
		bus:     deps.Bus,
		logger:  logger,
		fps:     metrics.NewThroughput(metrics.DefaultWindow),
	}
	logger.Info("Loaded model",
		"model_id", s.desc.ModelID,
		"engine", s.desc.Engine,
		"accelerator", s.desc.Accelerator,
		"threshold", cfg.Threshold)

	s.fps.Start()
	return s, nil
}

func loadAndProbe(ctx context.Context, loader inference.Loader, cfg inference.Config, frame capture.Frame) (inference.Model, error) {
	model, err := loader.Load(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg, err)
	}
	if _, err := model.Infer(ctx, frame); err != nil {
		model.Close()
		return nil, fmt.Errorf("probe %s: %w", cfg, err)
	}
	return model, nil
}

// Describe returns the loaded model's identity.
func (s *Source) Describe() inference.Description {
	return s.desc
}

// FPS returns the rolling capture throughput.
func (s *Source) FPS() float64 {
	return s.fps.FPS()
}

// LastInference returns the duration of the latest inference.
func (s *Source) LastInference() time.Duration {
	return time.Duration(s.lastInference.Load())
}

// Next captures and processes one frame.
func (s *Source) Next(ctx context.Context) (pose.Frame, error) {
	if s.signal.Requested() || ctx.Err() != nil || s.display.ShouldExit() {
		return nil, ErrEndOfStream
	}

	frame, err := s.device.ReadFrame(ctx)
	if err != nil {
		if ctx.Err() != nil || s.signal.Requested() {
			return nil, ErrEndOfStream
		}
		return nil, pose.NewError(pose.KindDeviceRead, "read frame", "", err)
	}
	metrics.IncFramesCaptured()

	result, err := s.model.Infer(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrEndOfStream
		}
		perr := pose.NewError(pose.KindInference, "infer", fmt.Sprintf("frame %d", frame.Seq), err)
		s.logger.Warn("Inference failed, frame treated as empty", "error", perr)
		metrics.IncInferenceErrors()
		result = inference.Result{}
	} else {
		metrics.ObserveInference(result.Duration)
	}
	s.lastInference.Store(int64(result.Duration))

	kept := pose.Filter(result.Poses, s.cfg.Threshold)
	metrics.AddPoses(len(kept), len(result.Poses)-len(kept))
	out := pose.NewFrame(kept)

	fps := s.fps.FPS()
	s.display.Send(frame, result.Poses, s.overlay(result.Duration, fps))
	s.bus.Publish(events.OverlayEvent{
		Lines:       s.overlay(result.Duration, fps),
		FPS:         fps,
		InferenceMs: float64(result.Duration) / float64(time.Millisecond),
		Subjects:    len(out),
		Timestamp:   frame.Time.Format(time.RFC3339Nano),
	})

	s.fps.Update()
	metrics.SetCaptureFPS(s.fps.FPS())

	s.logger.Debug("Processed frame", "seq", frame.Seq, "detections", len(result.Poses), "kept", len(kept))
	return out, nil
}

func (s *Source) overlay(d time.Duration, fps float64) []string {
	return []string{
		"Model: " + s.desc.ModelID,
		fmt.Sprintf("Inference time: %1.3f s", d.Seconds()),
		fmt.Sprintf("FPS: %.2f", fps),
	}
}

// Run pushes frames into queue until the stream ends. A user exit or a
// device failure triggers the shutdown signal. The source is closed on return.
func (s *Source) Run(ctx context.Context, queue *FrameQueue) error {
	defer s.Close()

	ctx, cancel := s.signal.Context(ctx)
	defer cancel()

	for {
		frame, err := s.Next(ctx)
		switch {
		case err == nil:
			if !queue.Push(frame) {
				return nil
			}
		case errors.Is(err, ErrEndOfStream):
			if s.display.ShouldExit() {
				s.signal.Trigger(ReasonViewerExit, nil)
			}
			return nil
		default:
			s.logger.Error("Capture failed, stopping pipeline", "error", err)
			s.signal.Trigger(ReasonSourceFailure, err)
			return err
		}
	}
}

// Close releases the model, then the device. Safe to call more than once.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		s.fps.Stop()
		if err := s.model.Close(); err != nil {
			s.logger.Warn("Failed to close model", "error", err)
		}
		if err := s.device.Close(); err != nil {
			s.logger.Warn("Failed to close device", "error", err)
		}
		s.logger.Info("Source stopped",
			"elapsed", s.fps.Elapsed().Round(10*time.Millisecond),
			"approx_fps", fmt.Sprintf("%.2f", s.fps.Average()))
	})
}
