package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/config"
	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/inference"
	"github.com/smazurov/posenode/internal/led"
	"github.com/smazurov/posenode/internal/logging"
	"github.com/smazurov/posenode/internal/metrics"
	"github.com/smazurov/posenode/internal/nats"
	"github.com/smazurov/posenode/internal/pipeline"
	"github.com/smazurov/posenode/internal/sink"
	"github.com/smazurov/posenode/internal/systemd"
	"github.com/smazurov/posenode/internal/viewer"
)

// Sink names accepted in Options.Sinks.
const (
	sinkInflux = "influx"
	sinkNATS   = "nats"
	sinkLog    = "log"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pipelineConfig maps the flat options onto the pipeline configuration.
func pipelineConfig(opts *Options, tags map[string]string) (pipeline.Config, error) {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(opts.PipelineThreshold), 64)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("pipeline.threshold %q: %w", opts.PipelineThreshold, err)
	}
	if opts.PipelineQueueCapacity < 0 {
		return pipeline.Config{}, fmt.Errorf("pipeline.queue_capacity must not be negative, got %d", opts.PipelineQueueCapacity)
	}
	if opts.CaptureSource == capture.SourceTestsrc || opts.CaptureResolution != "" {
		if _, _, resErr := capture.ParseResolution(opts.CaptureResolution); resErr != nil {
			return pipeline.Config{}, fmt.Errorf("capture.resolution: %w", resErr)
		}
	}

	model := inference.Config{
		Runtime:      opts.InferenceRuntime,
		ModelID:      opts.InferenceModel,
		Engine:       opts.InferenceEngine,
		Accelerator:  opts.InferenceAccelerator,
		Command:      opts.InferenceCommand,
		Codec:        opts.InferenceCodec,
		LoadTimeout:  ms(opts.InferenceLoadTimeoutMs),
		InferTimeout: ms(opts.InferenceTimeoutMs),
	}

	return pipeline.Config{
		Source: pipeline.SourceConfig{
			Capture: capture.Config{
				Source:        opts.CaptureSource,
				Device:        opts.CaptureDevice,
				InputFormat:   opts.CaptureInputFormat,
				Resolution:    opts.CaptureResolution,
				FPS:           opts.CaptureFps,
				Quality:       opts.CaptureQuality,
				FFmpegOptions: splitList(opts.CaptureFfmpegOptions),
				Warmup:        ms(opts.CaptureWarmupMs),
			},
			Model:     model,
			Fallback:  model.WithEngine(opts.InferenceFallbackEngine, opts.InferenceFallbackAccelerator),
			Threshold: threshold,
		},
		Publisher: pipeline.PublisherConfig{
			Period:       ms(opts.PublisherPeriodMs),
			WriteTimeout: ms(opts.PublisherWriteTimeoutMs),
			Measurement:  opts.PublisherMeasurement,
			Tags:         tags,
		},
		QueueCapacity: opts.PipelineQueueCapacity,
		StartDelay:    ms(opts.PipelineStartDelayMs),
		JoinTimeout:   ms(opts.PipelineJoinTimeoutMs),
	}, nil
}

// buildSinks creates the configured sinks, each instrumented. natsClient may
// be nil when NATS is disabled.
func buildSinks(opts *Options, natsClient *nats.Client, logger *slog.Logger) (sink.Sink, error) {
	var sinks sink.Multi
	for _, name := range splitList(opts.Sinks) {
		switch name {
		case sinkInflux:
			s, err := sink.NewInflux(sink.InfluxConfig{
				Host:     opts.DbHost,
				Port:     opts.DbPort,
				Username: opts.DbUser,
				Password: opts.DbPassword,
				Database: opts.DbName,
				Timeout:  ms(opts.PublisherWriteTimeoutMs),
			}, logger)
			if err != nil {
				_ = sinks.Close()
				return nil, err
			}
			sinks = append(sinks, sink.Instrument(name, s))
		case sinkNATS:
			if natsClient == nil {
				_ = sinks.Close()
				return nil, errors.New("the nats sink requires nats.enabled")
			}
			sinks = append(sinks, sink.Instrument(name, sink.NewNATS(natsClient, logger)))
		case sinkLog:
			sinks = append(sinks, sink.Instrument(name, sink.NewLog(logger)))
		default:
			_ = sinks.Close()
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}

	switch len(sinks) {
	case 0:
		logger.Warn("No sinks configured, records are only logged")
		return sink.Instrument(sinkLog, sink.NewLog(logger)), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func nodeName(opts *Options) string {
	if opts.NatsNode != "" {
		return opts.NatsNode
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return nats.DefaultName
}

// startLogWatcher reloads logging levels when the config file changes.
func startLogWatcher(ctx context.Context, path string, logger *slog.Logger) *config.Watcher[logging.Config] {
	if path == "" {
		return nil
	}
	w := config.NewConfigWatcher(path, config.LoadLoggingConfig, logger)
	w.OnReload(func(cfg logging.Config) {
		logging.SetLevels(cfg)
		logger.Info("Logging levels reloaded", "level", cfg.Level, "modules", cfg.Modules)
	})
	if err := w.Start(ctx); err != nil {
		logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
		return nil
	}
	return w
}

// run wires every component and blocks until the pipeline has stopped.
func run(ctx context.Context, opts *Options, logger *slog.Logger) error {
	node := nodeName(opts)
	tags := map[string]string{
		"session": uuid.NewString(),
		"model":   opts.InferenceModel,
		"node":    node,
	}

	cfg, err := pipelineConfig(opts, tags)
	if err != nil {
		return err
	}

	if w := startLogWatcher(ctx, opts.Config, logger); w != nil {
		defer func() { _ = w.Stop() }()
	}

	bus := events.New()

	notifier := systemd.NewNotifier(nil, logging.GetLogger("systemd"))
	notifier.Attach(bus)
	defer notifier.Detach()

	if opts.FeaturesLedEnabled {
		ledLogger := logging.GetLogger("led")
		ledManager := led.NewManager(led.New(opts.FeaturesLedName, ledLogger), bus, ledLogger)
		ledManager.Start()
		defer ledManager.Stop()
	}

	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go notifier.Watchdog(watchdogCtx)

	natsLogger := logging.GetLogger("nats")
	var natsClient *nats.Client
	if opts.NatsEnabled || opts.NatsEmbedded {
		url := opts.NatsUrl
		if opts.NatsEmbedded {
			srv := nats.NewServer(nats.ServerOptions{Port: opts.NatsPort, Name: node, Logger: natsLogger})
			if startErr := srv.Start(); startErr != nil {
				logger.Warn("Embedded NATS server failed to start", "error", startErr)
			} else {
				defer srv.Stop()
				url = srv.ClientURL()
			}
		}

		natsClient = nats.NewClient(url, node, natsLogger)
		if connErr := natsClient.Connect(); connErr != nil {
			logger.Warn("NATS not reachable, continuing offline", "url", url, "error", connErr)
		}
		defer natsClient.Close()

		fwd := nats.NewForwarder(bus, natsClient, natsLogger)
		fwd.Start()
		defer fwd.Stop()
	}

	out, err := buildSinks(opts, natsClient, logging.GetLogger("sink"))
	if err != nil {
		return err
	}

	var (
		orch    *pipeline.Orchestrator
		display pipeline.Display = pipeline.NopDisplay{}
		view    *viewer.Viewer
	)
	if opts.ViewerEnabled {
		view = viewer.New(viewer.Options{
			Status:         func() pipeline.Status { return orch.Status() },
			Bus:            bus,
			Quality:        opts.ViewerQuality,
			MetricsHandler: metrics.Handler(),
			Logger:         logging.GetLogger("viewer"),
		})
		display = view
	}

	orch = pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Loader:  inference.NewLoader(logging.GetLogger("inference")),
		Display: display,
		Sink:    out,
		Bus:     bus,
		Logger:  logging.GetLogger("pipeline"),
	})

	if natsClient != nil {
		natsClient.OnStop(func(m nats.ControlMessage) {
			logger.Info("Stop requested over NATS", "reason", m.Reason)
			orch.Stop(pipeline.ReasonRemote)
		})
	}

	serveDone := make(chan struct{})
	serveCtx, stopServe := context.WithCancel(context.WithoutCancel(ctx))
	if view != nil {
		go func() {
			defer close(serveDone)
			if serveErr := view.Serve(serveCtx, opts.ViewerAddr); serveErr != nil {
				logger.Warn("Viewer stopped", "addr", opts.ViewerAddr, "error", serveErr)
			}
		}()
	} else {
		close(serveDone)
	}

	logger.Info("Starting posenode", "node", node, "session", tags["session"], "sinks", opts.Sinks)
	runErr := orch.Run(ctx)

	if view != nil {
		view.Close()
	}
	stopServe()
	<-serveDone

	return runErr
}
