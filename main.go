package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/posenode/cmd"
	"github.com/smazurov/posenode/internal/config"
	"github.com/smazurov/posenode/internal/logging"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"posenode.toml"`

	// Capture settings
	CaptureSource        string `help:"Frame source (v4l2, testsrc)" default:"v4l2" toml:"capture.source" env:"CAPTURE_SOURCE"`
	CaptureDevice        string `help:"Video device path or /dev/v4l id" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureInputFormat   string `help:"V4L2 input format (mjpeg, yuyv422, ...)" default:"" toml:"capture.input_format" env:"CAPTURE_INPUT_FORMAT"`
	CaptureResolution    string `help:"Capture resolution" default:"640x480" toml:"capture.resolution" env:"CAPTURE_RESOLUTION"`
	CaptureFps           int    `help:"Capture frame rate" default:"15" toml:"capture.fps" env:"CAPTURE_FPS"`
	CaptureQuality       int    `help:"MJPEG qscale, 2 (best) to 31" default:"5" toml:"capture.quality" env:"CAPTURE_QUALITY"`
	CaptureFfmpegOptions string `help:"Comma separated ffmpeg input options" default:"" toml:"capture.ffmpeg_options" env:"CAPTURE_FFMPEG_OPTIONS"`
	CaptureWarmupMs      int    `help:"Frames discarded after opening the device, in milliseconds" default:"2000" toml:"capture.warmup_ms" env:"CAPTURE_WARMUP_MS"`

	// Inference settings
	InferenceRuntime             string `help:"Inference runtime (worker, synthetic)" default:"worker" toml:"inference.runtime" env:"INFERENCE_RUNTIME"`
	InferenceModel               string `help:"Model id" default:"human-pose-estimation-0001" toml:"inference.model" env:"INFERENCE_MODEL"`
	InferenceEngine              string `help:"Inference engine" default:"openvino" toml:"inference.engine" env:"INFERENCE_ENGINE"`
	InferenceAccelerator         string `help:"Inference accelerator" default:"gpu" toml:"inference.accelerator" env:"INFERENCE_ACCELERATOR"`
	InferenceCommand             string `help:"Worker command line" default:"posenode-worker --model {model} --engine {engine} --accelerator {accelerator} --codec {codec}" toml:"inference.command" env:"INFERENCE_COMMAND"`
	InferenceCodec               string `help:"Worker wire format (json, msgpack)" default:"json" toml:"inference.codec" env:"INFERENCE_CODEC"`
	InferenceFallbackEngine      string `help:"Engine used when the model fails to load" default:"dnn" toml:"inference.fallback_engine" env:"INFERENCE_FALLBACK_ENGINE"`
	InferenceFallbackAccelerator string `help:"Accelerator used when the model fails to load" default:"cpu" toml:"inference.fallback_accelerator" env:"INFERENCE_FALLBACK_ACCELERATOR"`
	InferenceLoadTimeoutMs       int    `help:"Model load timeout in milliseconds" default:"60000" toml:"inference.load_timeout_ms" env:"INFERENCE_LOAD_TIMEOUT_MS"`
	InferenceTimeoutMs           int    `help:"Per-frame inference timeout in milliseconds" default:"5000" toml:"inference.timeout_ms" env:"INFERENCE_TIMEOUT_MS"`

	// Pipeline settings
	PipelineThreshold     string `help:"Minimum pose score, exclusive, on the engine's scale" default:"20" toml:"pipeline.threshold" env:"PIPELINE_THRESHOLD"`
	PipelineQueueCapacity int    `help:"Frame queue capacity, 0 is unbounded" default:"1" toml:"pipeline.queue_capacity" env:"PIPELINE_QUEUE_CAPACITY"`
	PipelineStartDelayMs  int    `help:"Delay before the publisher starts, in milliseconds" default:"3000" toml:"pipeline.start_delay_ms" env:"PIPELINE_START_DELAY_MS"`
	PipelineJoinTimeoutMs int    `help:"How long each loop gets to stop, in milliseconds" default:"10000" toml:"pipeline.join_timeout_ms" env:"PIPELINE_JOIN_TIMEOUT_MS"`

	// Publisher settings
	PublisherPeriodMs       int    `help:"Publish period in milliseconds" default:"5000" toml:"publisher.period_ms" env:"PUBLISHER_PERIOD_MS"`
	PublisherMeasurement    string `help:"Time-series measurement" default:"mmbox_video_pose" toml:"publisher.measurement" env:"PUBLISHER_MEASUREMENT"`
	PublisherWriteTimeoutMs int    `help:"Sink write timeout in milliseconds" default:"10000" toml:"publisher.write_timeout_ms" env:"PUBLISHER_WRITE_TIMEOUT_MS"`

	// Sink settings
	Sinks      string `help:"Comma separated sinks (influx, nats, log)" default:"influx" toml:"sink.enabled" env:"SINKS"`
	DbHost     string `help:"InfluxDB host or URL" default:"localhost" toml:"sink.influx_url" env:"DB_HOST"`
	DbPort     int    `help:"InfluxDB port when the host is not a URL" default:"8086" toml:"sink.influx_port" env:"DB_PORT"`
	DbUser     string `help:"InfluxDB username" default:"" toml:"sink.influx_username" env:"DB_USER"`
	DbPassword string `help:"InfluxDB password" default:"" toml:"sink.influx_password" env:"DB_PASSWORD"`
	DbName     string `help:"InfluxDB database" default:"mmbox" toml:"sink.influx_database" env:"DB_NAME"`

	// Viewer settings
	ViewerEnabled bool   `help:"Serve the live viewer" default:"true" toml:"viewer.enabled" env:"VIEWER_ENABLED"`
	ViewerAddr    string `help:"Viewer listen address" default:":5000" toml:"viewer.addr" env:"VIEWER_ADDR"`
	ViewerQuality int    `help:"JPEG quality of annotated frames" default:"75" toml:"viewer.quality" env:"VIEWER_QUALITY"`

	// NATS settings
	NatsEnabled  bool   `help:"Publish events and accept stop requests over NATS" default:"false" toml:"nats.enabled" env:"NATS_ENABLED"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsUrl      string `help:"NATS server URL" default:"nats://127.0.0.1:4222" toml:"nats.url" env:"NATS_URL"`
	NatsNode     string `help:"Node name in NATS messages, defaults to the host name" default:"" toml:"nats.node" env:"NATS_NODE"`

	// Features settings
	FeaturesLedEnabled bool   `help:"Show the pipeline state on a board LED" default:"false" toml:"features.led_enabled" env:"FEATURES_LED"`
	FeaturesLedName    string `help:"LED under /sys/class/leds, detected from the board when empty" default:"" toml:"features.led_name" env:"FEATURES_LED_NAME"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline  string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingCapture   string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingFfmpeg    string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingInference string `help:"Inference logging level" default:"info" toml:"logging.inference" env:"LOGGING_INFERENCE"`
	LoggingWorker    string `help:"Inference worker output logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingSink      string `help:"Sink logging level" default:"info" toml:"logging.sink" env:"LOGGING_SINK"`
	LoggingViewer    string `help:"Viewer logging level" default:"info" toml:"logging.viewer" env:"LOGGING_VIEWER"`
	LoggingHttp      string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingNats      string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
	LoggingLed       string `help:"Status LED logging level" default:"info" toml:"logging.led" env:"LOGGING_LED"`
	LoggingSystemd   string `help:"systemd notification logging level" default:"info" toml:"logging.systemd" env:"LOGGING_SYSTEMD"`
}

// legacyEnv maps the unprefixed database variables of older deployments.
var legacyEnv = []string{"DB_HOST", "DB_USER", "DB_PASSWORD"}

func main() {
	exitCode := 0

	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		applyLegacyEnv()

		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(loggingConfig(opts))
		logger := logging.GetLogger("main")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			if err := run(ctx, opts, logger); err != nil {
				logger.Error("posenode stopped with error", "error", err)
				exitCode = 1
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			<-done
		})
	})

	root := cli.Root()
	root.Use = "posenode"
	root.Short = "Pose estimation on a live camera, recorded to a time-series store"

	root.AddCommand(cmd.CreateProbeCmd())
	root.AddCommand(cmd.CreateStopCmd())
	root.AddCommand(cmd.CreateVersionCmd())

	cli.Run()
	os.Exit(exitCode)
}

func applyLegacyEnv() {
	for _, key := range legacyEnv {
		if _, set := os.LookupEnv(config.EnvPrefix + key); set {
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			_ = os.Setenv(config.EnvPrefix+key, v)
		}
	}
}

func loggingConfig(opts *Options) logging.Config {
	return logging.Config{
		Level:  opts.LoggingLevel,
		Format: opts.LoggingFormat,
		Modules: map[string]string{
			"pipeline":  opts.LoggingPipeline,
			"capture":   opts.LoggingCapture,
			"ffmpeg":    opts.LoggingFfmpeg,
			"inference": opts.LoggingInference,
			"worker":    opts.LoggingWorker,
			"sink":      opts.LoggingSink,
			"viewer":    opts.LoggingViewer,
			"http":      opts.LoggingHttp,
			"nats":      opts.LoggingNats,
			"led":       opts.LoggingLed,
			"systemd":   opts.LoggingSystemd,
		},
	}
}
