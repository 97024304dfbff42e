// Package viewer serves the annotated video, pipeline status and events to a
// browser, and lets the user stop the pipeline.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/logging"
	"github.com/smazurov/posenode/internal/pipeline"
	"github.com/smazurov/posenode/internal/pose"
	"github.com/smazurov/posenode/internal/version"
)

// Defaults.
const (
	DefaultAddr    = ":5000"
	DefaultQuality = 75
)

// Options configures the viewer.
type Options struct {
	// Status reports the pipeline state. Optional.
	Status func() pipeline.Status
	Bus    *events.Bus
	// Quality is the JPEG quality of annotated frames.
	Quality int
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

type pending struct {
	frame      capture.Frame
	detections []pose.Pose
	overlay    []string
}

// Viewer is a pipeline.Display backed by an HTTP server.
type Viewer struct {
	opts   Options
	api    huma.API
	mux    *http.ServeMux
	logger *slog.Logger

	exit atomic.Bool

	mu      sync.Mutex
	next    *pending
	latest  []byte
	clients map[chan []byte]struct{}

	renderCh  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a viewer and starts its render loop.
func New(opts Options) *Viewer {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("viewer")
	}

	mux := http.NewServeMux()
	config := huma.DefaultConfig(version.Name, version.Version)
	config.Info.Description = "Live pose estimation viewer"
	config.Servers = []*huma.Server{}

	v := &Viewer{
		opts:     opts,
		api:      humago.New(mux, config),
		mux:      mux,
		logger:   opts.Logger,
		clients:  make(map[chan []byte]struct{}),
		renderCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	v.api.UseMiddleware(httpLoggingMiddleware)
	v.registerRoutes()

	go v.renderLoop()
	return v
}

// Handler returns the HTTP handler of the viewer.
func (v *Viewer) Handler() http.Handler {
	return v.mux
}

// API returns the huma API.
func (v *Viewer) API() huma.API {
	return v.api
}

// Send implements pipeline.Display. Frames are only rendered while at least
// one video client is connected.
func (v *Viewer) Send(frame capture.Frame, detections []pose.Pose, overlay []string) {
	v.mu.Lock()
	if len(v.clients) == 0 {
		v.mu.Unlock()
		return
	}
	v.next = &pending{frame: frame, detections: detections, overlay: overlay}
	v.mu.Unlock()

	select {
	case v.renderCh <- struct{}{}:
	default:
	}
}

// ShouldExit implements pipeline.Display.
func (v *Viewer) ShouldExit() bool {
	return v.exit.Load()
}

// RequestExit makes ShouldExit report true.
func (v *Viewer) RequestExit() {
	if v.exit.CompareAndSwap(false, true) {
		v.logger.Info("Exit requested from viewer")
	}
}

// Clients returns the number of connected video clients.
func (v *Viewer) Clients() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.clients)
}

func (v *Viewer) renderLoop() {
	for {
		select {
		case <-v.done:
			return
		case <-v.renderCh:
		}

		v.mu.Lock()
		p := v.next
		v.next = nil
		v.mu.Unlock()
		if p == nil {
			continue
		}

		data, err := renderFrame(p.frame.JPEG, p.detections, p.overlay, v.opts.Quality)
		if err != nil {
			v.logger.Debug("Failed to render frame", "seq", p.frame.Seq, "error", err)
			continue
		}
		v.broadcast(data)
	}
}

// broadcast hands a frame to every client, replacing frames they have not taken yet.
func (v *Viewer) broadcast(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.latest = data
	for ch := range v.clients {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- data:
		default:
		}
	}
}

func (v *Viewer) subscribe() (chan []byte, []byte) {
	ch := make(chan []byte, 1)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clients[ch] = struct{}{}
	return ch, v.latest
}

func (v *Viewer) unsubscribe(ch chan []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.clients, ch)
	if len(v.clients) == 0 {
		v.next = nil
	}
}

// Serve listens on addr until ctx is done. Open streams end with ctx.
func (v *Viewer) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           v.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		v.logger.Info("Viewer listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			v.logger.Warn("Viewer shutdown", "error", err)
		}
		return nil
	}
}

// Close stops the render loop and ends open video streams.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		close(v.done)
	})
}
