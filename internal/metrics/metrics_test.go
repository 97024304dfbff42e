package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQueueDroppedCounter(t *testing.T) {
	before := testutil.ToFloat64(queueDropped)
	IncQueueDropped()
	IncQueueDropped()
	if got := testutil.ToFloat64(queueDropped) - before; got != 2 {
		t.Errorf("queue dropped delta = %v, want 2", got)
	}
}

func TestRecordsByResult(t *testing.T) {
	okBefore := testutil.ToFloat64(recordsWritten.WithLabelValues("influx", "ok"))
	errBefore := testutil.ToFloat64(recordsWritten.WithLabelValues("influx", "error"))

	IncRecords("influx", "ok")
	IncRecords("influx", "error")
	IncRecords("influx", "ok")

	if got := testutil.ToFloat64(recordsWritten.WithLabelValues("influx", "ok")) - okBefore; got != 2 {
		t.Errorf("ok delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(recordsWritten.WithLabelValues("influx", "error")) - errBefore; got != 1 {
		t.Errorf("error delta = %v, want 1", got)
	}
}

func TestPipelineStateIsExclusive(t *testing.T) {
	all := []string{"starting", "running", "stop_requested", "stopped"}
	SetPipelineState("running", all)

	for _, s := range all {
		want := 0.0
		if s == "running" {
			want = 1
		}
		if got := testutil.ToFloat64(pipelineState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	SetCaptureFPS(14.5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "posenode_capture_fps 14.5") {
		t.Error("expected capture fps gauge in response")
	}
}

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestThroughputRollingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	meter := NewThroughput(2 * time.Second)
	meter.now = clock.Now
	meter.Start()

	// 10 fps for 3 seconds
	for range 30 {
		clock.Advance(100 * time.Millisecond)
		meter.Update()
	}

	if fps := meter.FPS(); fps < 9.9 || fps > 10.1 {
		t.Errorf("FPS() = %v, want ~10", fps)
	}
	if avg := meter.Average(); avg < 9.9 || avg > 10.1 {
		t.Errorf("Average() = %v, want ~10", avg)
	}
	if meter.Frames() != 30 {
		t.Errorf("Frames() = %d, want 30", meter.Frames())
	}

	// Stall: window empties, average keeps decaying until Stop.
	clock.Advance(5 * time.Second)
	if fps := meter.FPS(); fps != 0 {
		t.Errorf("FPS() after stall = %v, want 0", fps)
	}

	meter.Stop()
	elapsed := meter.Elapsed()
	clock.Advance(10 * time.Second)
	if meter.Elapsed() != elapsed {
		t.Error("Elapsed should be frozen after Stop")
	}
	if elapsed != 8*time.Second {
		t.Errorf("Elapsed() = %v, want 8s", elapsed)
	}
}
