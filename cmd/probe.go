package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/ffmpeg"
	"github.com/smazurov/posenode/internal/inference"
	"github.com/smazurov/posenode/internal/logging"
	"github.com/smazurov/posenode/internal/pipeline"
	"github.com/smazurov/posenode/internal/process"
	"github.com/spf13/cobra"
)

const listFormatsTimeout = 10 * time.Second

// ProbeOptions configures a probe run.
type ProbeOptions struct {
	Capture   capture.Config
	Model     inference.Config
	Threshold float64
	Frames    int
	// ListOnly prints devices and formats without opening the pipeline.
	ListOnly bool
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	opts := ProbeOptions{
		Capture: capture.Config{Source: capture.SourceV4L2},
		Model:   inference.Config{Runtime: inference.RuntimeWorker},
	}
	var warmupMs int

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the capture device and model",
		Long: `Lists video devices, prints the formats ffmpeg reports for the selected device, ` +
			`then opens the device, loads the model (with the usual fallback) and prints the ` +
			`detections of a few frames. Nothing is written to a sink.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			opts.Capture.Warmup = time.Duration(warmupMs) * time.Millisecond
			logger := logging.GetLogger("probe")

			if err := RunProbe(cmd.Context(), cmd.OutOrStdout(), opts, logger); err != nil {
				logger.Error("Probe failed", "error", err)
				os.Exit(1)
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Capture.Source, "source", opts.Capture.Source, "Frame source (v4l2, testsrc)")
	f.StringVar(&opts.Capture.Device, "device", "/dev/video0", "Device path or /dev/v4l id")
	f.StringVar(&opts.Capture.InputFormat, "input-format", "", "V4L2 input format (mjpeg, yuyv422, ...)")
	f.StringVar(&opts.Capture.Resolution, "resolution", "640x480", "Capture resolution")
	f.IntVar(&opts.Capture.FPS, "fps", 15, "Capture frame rate")
	f.IntVar(&warmupMs, "warmup-ms", 0, "Frames are discarded for this long after opening")
	f.StringVar(&opts.Model.Runtime, "runtime", opts.Model.Runtime, "Inference runtime (worker, synthetic)")
	f.StringVar(&opts.Model.ModelID, "model", "human-pose-estimation-0001", "Model id")
	f.StringVar(&opts.Model.Engine, "engine", "openvino", "Inference engine")
	f.StringVar(&opts.Model.Accelerator, "accelerator", "gpu", "Inference accelerator")
	f.StringVar(&opts.Model.Command, "worker-command", "", "Worker command line")
	f.StringVar(&opts.Model.Codec, "codec", inference.CodecJSON, "Worker wire format (json, msgpack)")
	f.Float64Var(&opts.Threshold, "threshold", pipeline.DefaultThreshold, "Minimum pose score, exclusive")
	f.IntVarP(&opts.Frames, "frames", "n", 5, "Frames to process")
	f.BoolVar(&opts.ListOnly, "list", false, "Only list devices and formats")

	return cmd
}

// RunProbe prints device information and the detections of opts.Frames frames.
func RunProbe(ctx context.Context, w io.Writer, opts ProbeOptions, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Capture.Source == capture.SourceV4L2 || opts.Capture.Source == "" {
		printDevices(ctx, w, opts.Capture.Device, logger)
	}
	if opts.ListOnly {
		return nil
	}

	src, err := pipeline.OpenSource(ctx, pipeline.SourceConfig{
		Capture:   opts.Capture,
		Model:     opts.Model,
		Threshold: opts.Threshold,
	}, pipeline.SourceDeps{
		Loader: inference.NewLoader(logging.GetLogger("inference")),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	desc := src.Describe()
	fmt.Fprintf(w, "Model: %s (engine=%s accelerator=%s version=%s)\n",
		desc.ModelID, desc.Engine, desc.Accelerator, desc.Version)

	for i := range opts.Frames {
		frame, err := src.Next(ctx)
		if errors.Is(err, pipeline.ErrEndOfStream) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "frame %d: %d subjects, inference %s: %s\n",
			i, len(frame), src.LastInference().Round(time.Microsecond), frame)
	}

	fmt.Fprintf(w, "FPS: %.2f\n", src.FPS())
	return nil
}

func printDevices(ctx context.Context, w io.Writer, device string, logger *slog.Logger) {
	links, err := capture.ListDevices()
	if err != nil {
		logger.Warn("Failed to list video devices", "error", err)
	}
	fmt.Fprintln(w, "Video devices:")
	if len(links) == 0 {
		fmt.Fprintln(w, "  (none under /dev/v4l)")
	}
	for _, l := range links {
		fmt.Fprintf(w, "  %-8s %s -> %s\n", l.Source, l.ID, l.Path)
	}

	if device == "" {
		return
	}
	path, err := capture.ResolveDevicePath(device)
	if err != nil {
		logger.Warn("Device not found", "device", device, "error", err)
		return
	}
	command, err := ffmpeg.BuildListFormatsCommand(path)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, listFormatsTimeout)
	defer cancel()
	out, err := process.Output(ctx, command)
	if out == "" && err != nil {
		logger.Warn("Failed to list formats", "device", path, "error", err)
		return
	}
	fmt.Fprintf(w, "Formats of %s:\n%s\n", path, out)
}
