package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/inference"
	"github.com/smazurov/posenode/internal/pose"
	"github.com/smazurov/posenode/internal/sink"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptDevice serves `frames` frames, each after `interval`, then fails
// with failErr or blocks until ctx is done.
type scriptDevice struct {
	mu       sync.Mutex
	frames   int
	interval time.Duration
	served   int
	failErr  error
	closed   atomic.Int32
}

func (d *scriptDevice) ReadFrame(ctx context.Context) (capture.Frame, error) {
	if d.interval > 0 && !sleep(ctx, d.interval) {
		return capture.Frame{}, ctx.Err()
	}

	d.mu.Lock()
	if d.frames < 0 || d.served < d.frames {
		d.served++
		seq := d.served
		d.mu.Unlock()
		return capture.Frame{Seq: uint64(seq), Time: time.Now(), Width: 640, Height: 480}, nil
	}
	d.mu.Unlock()

	if d.failErr != nil {
		return capture.Frame{}, d.failErr
	}
	<-ctx.Done()
	return capture.Frame{}, ctx.Err()
}

func (d *scriptDevice) reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.served
}

func (d *scriptDevice) Close() error {
	d.closed.Add(1)
	return nil
}

func (d *scriptDevice) opener() DeviceOpener {
	return func(context.Context, capture.Config) (capture.Device, error) {
		return d, nil
	}
}

// scriptModel returns scripted scores per call, then empty results.
type scriptModel struct {
	mu     sync.Mutex
	id     string
	cfg    inference.Config
	scores [][]float64
	errs   map[int]error
	calls  int
	closed atomic.Int32
}

func (m *scriptModel) Infer(ctx context.Context, _ capture.Frame) (inference.Result, error) {
	if err := ctx.Err(); err != nil {
		return inference.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.calls
	m.calls++
	if err := m.errs[i]; err != nil {
		return inference.Result{}, err
	}
	if i >= len(m.scores) {
		return inference.Result{Duration: time.Millisecond}, nil
	}
	poses := make([]pose.Pose, len(m.scores[i]))
	for j, s := range m.scores[i] {
		poses[j] = pose.Pose{Score: s, Keypoints: []pose.Keypoint{{Name: "nose", X: float64(j), Y: 1}}}
	}
	return inference.Result{Poses: poses, Duration: 40 * time.Millisecond}, nil
}

func (m *scriptModel) inferences() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptModel) Describe() inference.Description {
	return inference.Description{ModelID: m.id, Engine: m.cfg.Engine, Accelerator: m.cfg.Accelerator}
}

func (m *scriptModel) Close() error {
	m.closed.Add(1)
	return nil
}

// recordingLoader hands out models and records the configs it was asked for.
type recordingLoader struct {
	mu      sync.Mutex
	configs []inference.Config
	load    func(cfg inference.Config) (inference.Model, error)
}

func (l *recordingLoader) Load(_ context.Context, cfg inference.Config) (inference.Model, error) {
	l.mu.Lock()
	l.configs = append(l.configs, cfg)
	l.mu.Unlock()
	return l.load(cfg)
}

func staticLoader(m *scriptModel) *recordingLoader {
	return &recordingLoader{load: func(cfg inference.Config) (inference.Model, error) {
		m.cfg = cfg
		return m, nil
	}}
}

// memorySink records writes and can fail or hang on demand.
type memorySink struct {
	mu       sync.Mutex
	records  []sink.Record
	attempts int
	failOn   map[int]bool
	hang     bool
	closed   bool
	wrote    chan struct{}
}

func newMemorySink() *memorySink {
	return &memorySink{wrote: make(chan struct{}, 64)}
}

func (s *memorySink) WriteRecord(_ context.Context, rec sink.Record) error {
	s.mu.Lock()
	attempt := s.attempts
	s.attempts++
	hang := s.hang
	fail := s.failOn[attempt]
	s.mu.Unlock()

	if hang {
		time.Sleep(time.Hour)
	}
	if fail {
		s.wrote <- struct{}{}
		return errors.New("influx unavailable")
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	s.wrote <- struct{}{}
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySink) snapshot() []sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Record(nil), s.records...)
}

// exitDisplay asks to exit after `after` frames.
type exitDisplay struct {
	after int
	sent  atomic.Int32
	lines []string
	mu    sync.Mutex
}

func (d *exitDisplay) Send(_ capture.Frame, _ []pose.Pose, overlay []string) {
	d.sent.Add(1)
	d.mu.Lock()
	d.lines = overlay
	d.mu.Unlock()
}

func (d *exitDisplay) ShouldExit() bool {
	return d.after > 0 && int(d.sent.Load()) >= d.after
}
