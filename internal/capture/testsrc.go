package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var barColors = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// testPattern renders SMPTE-style colour bars with a white marker sweeping
// across them, paced at the configured frame rate.
type testPattern struct {
	width, height int
	quality       int
	ticker        *time.Ticker
	seq           uint64
	closed        atomic.Bool
	done          chan struct{}
}

func newTestPattern(cfg Config) (*testPattern, error) {
	w, h, err := ParseResolution(cfg.Resolution)
	if err != nil {
		return nil, err
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 15
	}
	quality := jpeg.DefaultQuality
	if cfg.Quality > 0 {
		// Map ffmpeg qscale (2 best .. 31 worst) onto image/jpeg quality.
		quality = max(1, 100-(cfg.Quality-2)*3)
	}
	return &testPattern{
		width:   w,
		height:  h,
		quality: quality,
		ticker:  time.NewTicker(time.Second / time.Duration(fps)),
		done:    make(chan struct{}),
	}, nil
}

func (p *testPattern) ReadFrame(ctx context.Context) (Frame, error) {
	if p.closed.Load() {
		return Frame{}, ErrClosed
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-p.done:
		return Frame{}, ErrClosed
	case <-p.ticker.C:
	}

	seq := p.seq
	p.seq++

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, p.render(seq), &jpeg.Options{Quality: p.quality}); err != nil {
		return Frame{}, fmt.Errorf("encode test frame: %w", err)
	}
	return Frame{Seq: seq, Time: time.Now(), Width: p.width, Height: p.height, JPEG: buf.Bytes()}, nil
}

func (p *testPattern) render(seq uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := max(1, p.width/len(barColors))
	for i, c := range barColors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, p.height)
		if i == len(barColors)-1 {
			r.Max.X = p.width
		}
		draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}

	size := max(4, p.height/10)
	span := max(1, p.width-size)
	x := int(seq*8) % span
	y := (p.height - size) / 2
	draw.Draw(img, image.Rect(x, y, x+size, y+size), image.White, image.Point{}, draw.Src)
	return img
}

func (p *testPattern) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.ticker.Stop()
		close(p.done)
	}
	return nil
}

// ParseResolution parses "WIDTHxHEIGHT". An empty string means 640x480.
func ParseResolution(s string) (width, height int, err error) {
	if s == "" {
		return 640, 480, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	width, werr := strconv.Atoi(ws)
	height, herr := strconv.Atoi(hs)
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	return width, height, nil
}
