package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/smazurov/posenode/internal/ffmpeg"
	"github.com/smazurov/posenode/internal/logging"
	"github.com/smazurov/posenode/internal/process"
)

const maxJPEGSize = 16 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// v4l2Device reads MJPEG frames from an ffmpeg subprocess. Only the newest
// undelivered frame is kept so a slow reader never falls behind real time.
type v4l2Device struct {
	proc   *process.Process
	logger *slog.Logger

	latest chan Frame
	done   chan struct{}

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
}

func openV4L2(ctx context.Context, cfg Config, logger *slog.Logger) (*v4l2Device, error) {
	path, err := ResolveDevicePath(cfg.Device)
	if err != nil {
		return nil, err
	}

	opts, err := ffmpeg.ParseOptions(cfg.FFmpegOptions)
	if err != nil {
		return nil, err
	}
	if len(cfg.FFmpegOptions) == 0 {
		opts = ffmpeg.DefaultOptions()
	}

	command, err := ffmpeg.BuildCaptureCommand(ffmpeg.CaptureParams{
		DevicePath:  path,
		InputFormat: cfg.InputFormat,
		Resolution:  cfg.Resolution,
		FPS:         cfg.FPS,
		Quality:     cfg.Quality,
		Options:     opts,
	})
	if err != nil {
		return nil, err
	}

	// The process outlives the open call, so it is not tied to ctx.
	proc, err := process.Start(context.WithoutCancel(ctx), process.Options{
		ID:           "capture",
		Command:      command,
		Logger:       logger,
		OutputLogger: logging.GetLogger("ffmpeg"),
		LogParser:    ffmpeg.ParseLogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s: %w", path, err)
	}

	d := &v4l2Device{
		proc:   proc,
		logger: logger,
		latest: make(chan Frame, 1),
		done:   make(chan struct{}),
	}
	go d.readLoop(proc.Stdout())

	logger.Info("Capture device opened", "device", path, "resolution", cfg.Resolution, "fps", cfg.FPS)
	return d, nil
}

func (d *v4l2Device) readLoop(r io.Reader) {
	defer close(d.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512*1024), maxJPEGSize)
	scanner.Split(splitJPEG)

	var seq uint64
	for scanner.Scan() {
		data := bytes.Clone(scanner.Bytes())
		frame := newFrame(seq, data)
		seq++

		select {
		case d.latest <- frame:
		default:
			// Replace the stale frame.
			select {
			case <-d.latest:
			default:
			}
			d.latest <- frame
		}
	}

	err := scanner.Err()
	if err == nil {
		<-d.proc.Done()
		err = fmt.Errorf("ffmpeg exited with code %d", d.proc.ExitCode())
	}
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

// ReadFrame returns the newest frame, waiting for one if none is pending.
func (d *v4l2Device) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f := <-d.latest:
		return f, nil
	default:
	}

	select {
	case f := <-d.latest:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-d.done:
		select {
		case f := <-d.latest:
			return f, nil
		default:
		}
		d.mu.Lock()
		err := d.readErr
		d.mu.Unlock()
		return Frame{}, errors.Join(ErrClosed, err)
	}
}

// Close stops ffmpeg and waits for the reader to finish.
func (d *v4l2Device) Close() error {
	d.closeOnce.Do(func() {
		code := d.proc.Stop()
		<-d.done
		d.logger.Debug("Capture process stopped", "exit_code", code)
	})
	return nil
}

// splitJPEG is a bufio.SplitFunc yielding complete JPEG images delimited by
// SOI and EOI markers. Bytes before an SOI are skipped.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF, it may be the first half of an SOI.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
