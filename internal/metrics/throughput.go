package metrics

import (
	"sync"
	"time"
)

// DefaultWindow is the span of the rolling throughput estimate.
const DefaultWindow = 5 * time.Second

// Throughput measures frames processed per second: a rolling rate over a
// sliding window plus the overall average between Start and Stop.
type Throughput struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	started time.Time
	stopped time.Time
	frames  uint64
	recent  []time.Time
}

// NewThroughput creates a meter with the given sliding window.
func NewThroughput(window time.Duration) *Throughput {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throughput{window: window, now: time.Now}
}

// Start resets the meter and begins measuring.
func (t *Throughput) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = t.now()
	t.stopped = time.Time{}
	t.frames = 0
	t.recent = t.recent[:0]
}

// Update records one processed frame.
func (t *Throughput) Update() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if t.started.IsZero() {
		t.started = now
	}
	t.frames++
	t.recent = append(t.recent, now)
	t.trim(now)
}

// Stop freezes the elapsed time used by Average.
func (t *Throughput) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped.IsZero() {
		t.stopped = t.now()
	}
}

// FPS returns the rate over the sliding window.
func (t *Throughput) FPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.trim(now)
	if len(t.recent) < 2 {
		return 0
	}
	span := t.recent[len(t.recent)-1].Sub(t.recent[0])
	if span <= 0 {
		return 0
	}
	return float64(len(t.recent)-1) / span.Seconds()
}

// Average returns frames divided by elapsed time since Start.
func (t *Throughput) Average() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.elapsedLocked()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.frames) / elapsed.Seconds()
}

// Elapsed returns the time since Start, or until Stop once stopped.
func (t *Throughput) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

// Frames returns the number of frames recorded since Start.
func (t *Throughput) Frames() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

func (t *Throughput) elapsedLocked() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	end := t.stopped
	if end.IsZero() {
		end = t.now()
	}
	return end.Sub(t.started)
}

func (t *Throughput) trim(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.recent) && t.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		t.recent = append(t.recent[:0], t.recent[i:]...)
	}
}
