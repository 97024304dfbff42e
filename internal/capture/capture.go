// Package capture delivers JPEG-encoded video frames from a camera or a
// built-in test pattern.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"time"
)

// Source names.
const (
	SourceV4L2    = "v4l2"
	SourceTestsrc = "testsrc"
)

// ErrClosed is returned by ReadFrame after the device has been closed or
// its capture process has gone away.
var ErrClosed = errors.New("capture device closed")

// Frame is one captured image.
type Frame struct {
	Seq    uint64
	Time   time.Time
	Width  int
	Height int
	JPEG   []byte
}

// Device is an open capture device.
type Device interface {
	// ReadFrame blocks until the next frame is available or ctx is done.
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Config selects and configures the frame source.
type Config struct {
	Source      string
	Device      string // /dev/videoN, or a by-id / by-path name
	InputFormat string
	Resolution  string // WIDTHxHEIGHT
	FPS         int
	Quality     int
	// FFmpegOptions are ffmpeg input option names, see ffmpeg.AllOptions.
	FFmpegOptions []string
	// Warmup is how long frames are discarded after opening so exposure settles.
	Warmup time.Duration
}

// Open opens the configured source and runs the warm-up.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Device, error) {
	var (
		dev Device
		err error
	)
	switch cfg.Source {
	case SourceV4L2, "":
		dev, err = openV4L2(ctx, cfg, logger)
	case SourceTestsrc:
		dev, err = newTestPattern(cfg)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Warmup > 0 {
		discarded, warmErr := warmUp(ctx, dev, cfg.Warmup)
		if warmErr != nil {
			dev.Close()
			return nil, fmt.Errorf("warm-up: %w", warmErr)
		}
		logger.Debug("Capture warm-up done", "discarded_frames", discarded, "duration", cfg.Warmup)
	}
	return dev, nil
}

// warmUp reads and discards frames until d has elapsed.
func warmUp(ctx context.Context, dev Device, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	discarded := 0
	for {
		_, err := dev.ReadFrame(ctx)
		switch {
		case err == nil:
			discarded++
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
			return discarded, nil
		default:
			return discarded, err
		}
	}
}

// newFrame stamps a JPEG with sequence, time and dimensions.
func newFrame(seq uint64, data []byte) Frame {
	f := Frame{Seq: seq, Time: time.Now(), JPEG: data}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f
}
