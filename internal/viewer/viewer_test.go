package viewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/metrics"
	"github.com/smazurov/posenode/internal/pipeline"
	"github.com/smazurov/posenode/internal/pose"
)

func newTestViewer(t *testing.T, opts Options) (*Viewer, *httptest.Server) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	v := New(opts)
	srv := httptest.NewServer(v.Handler())
	t.Cleanup(func() {
		v.Close()
		srv.Close()
	})
	return v, srv
}

func readPart(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()
	tp := textproto.NewReader(br)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			t.Fatalf("read boundary: %v", err)
		}
		if line == "--frame" {
			break
		}
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("read part header: %v", err)
	}
	n, err := strconv.Atoi(hdr.Get("Content-Length"))
	if err != nil {
		t.Fatalf("Content-Length: %v", err)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		t.Fatalf("read part body: %v", err)
	}
	return data
}

func TestViewerImplementsDisplay(t *testing.T) {
	var _ pipeline.Display = (*Viewer)(nil)
}

func TestExitEndpoint(t *testing.T) {
	v, srv := newTestViewer(t, Options{})

	if v.ShouldExit() {
		t.Fatal("ShouldExit before request")
	}
	resp, err := http.Post(srv.URL+"/api/exit", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/exit: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if !v.ShouldExit() {
		t.Error("ShouldExit should be true after /api/exit")
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := newTestViewer(t, Options{
		Status: func() pipeline.Status {
			return pipeline.Status{State: pipeline.StateRunning, FPS: 14.5, QueueDropped: 3}
		},
	})

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != "running" || body["fps"] != 14.5 || body["queue_dropped"] != float64(3) {
		t.Errorf("unexpected status %v", body)
	}
	if body["exit_requested"] != false {
		t.Errorf("exit_requested = %v", body["exit_requested"])
	}
}

func TestVersionAndIndex(t *testing.T) {
	_, srv := newTestViewer(t, Options{})

	resp, err := http.Get(srv.URL + "/api/version")
	if err != nil {
		t.Fatalf("GET /api/version: %v", err)
	}
	var info map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if info["version"] == nil || info["go_version"] == nil {
		t.Errorf("version body = %v", info)
	}

	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), `src="/video.mjpg"`) {
		t.Error("index page should embed the video stream")
	}
}

func TestMetricsMounted(t *testing.T) {
	_, srv := newTestViewer(t, Options{MetricsHandler: metrics.Handler()})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "posenode_") {
		t.Error("metrics output should contain posenode collectors")
	}
}

func TestSendWithoutClientsSkipsRendering(t *testing.T) {
	v, _ := newTestViewer(t, Options{})
	v.Send(capture.Frame{JPEG: []byte("garbage")}, nil, nil)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.next != nil {
		t.Error("frames should not be queued without clients")
	}
}

func TestVideoStreamDeliversAnnotatedFrames(t *testing.T) {
	v, srv := newTestViewer(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video.mjpg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /video.mjpg: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}
	br := bufio.NewReader(resp.Body)

	first := readPart(t, br)
	if _, err := jpeg.DecodeConfig(bytes.NewReader(first)); err != nil {
		t.Fatalf("placeholder is not a JPEG: %v", err)
	}

	frame := capture.Frame{Seq: 1, JPEG: testJPEG(t, 160, 120)}
	detections := []pose.Pose{{Score: 40, Keypoints: []pose.Keypoint{{Name: "nose", X: 80, Y: 60}}}}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				v.Send(frame, detections, []string{"Model: test"})
			}
		}
	}()

	second := readPart(t, br)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(second))
	if err != nil {
		t.Fatalf("frame is not a JPEG: %v", err)
	}
	if cfg.Width != 160 || cfg.Height != 120 {
		t.Errorf("frame size = %dx%d, want 160x120", cfg.Width, cfg.Height)
	}
	if v.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", v.Clients())
	}
}

func TestEventsStream(t *testing.T) {
	bus := events.New()
	_, srv := newTestViewer(t, Options{Bus: bus})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				bus.Publish(events.PipelineStateEvent{State: "running", Previous: "starting"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"state":"running"`) {
			return
		}
	}
	t.Fatalf("no state event received: %v", scanner.Err())
}
