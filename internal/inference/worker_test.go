package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/smazurov/posenode/internal/capture"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// helperConfig returns a worker config that re-runs this test binary as a
// fake inference worker.
func helperConfig(t *testing.T, codecName, mode string) Config {
	t.Helper()
	t.Setenv("POSENODE_TEST_WORKER", "1")
	t.Setenv("POSENODE_TEST_WORKER_MODE", mode)
	return Config{
		Runtime:      RuntimeWorker,
		ModelID:      "movenet",
		Engine:       "openvino",
		Accelerator:  "gpu",
		Command:      fmt.Sprintf(`"%s" -test.run=^TestHelperWorker$ -- {codec} {model} {engine} {accelerator}`, os.Args[0]),
		Codec:        codecName,
		LoadTimeout:  5 * time.Second,
		InferTimeout: 2 * time.Second,
	}
}

// TestHelperWorker is not a real test: it is the fake worker process.
func TestHelperWorker(t *testing.T) {
	if os.Getenv("POSENODE_TEST_WORKER") != "1" {
		t.Skip("helper process")
	}

	var args []string
	for i, a := range os.Args {
		if a == "--" {
			args = os.Args[i+1:]
			break
		}
	}
	if len(args) < 4 {
		os.Exit(2)
	}
	codecName, model, engine, accelerator := args[0], args[1], args[2], args[3]
	c, err := newCodec(codecName)
	if err != nil {
		os.Exit(2)
	}

	fmt.Fprintln(os.Stderr, "[INFO] helper worker starting")
	switch os.Getenv("POSENODE_TEST_WORKER_MODE") {
	case "exit":
		os.Exit(3)
	case "silent":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "fail-load":
		_ = c.Write(os.Stdout, message{Type: msgReady, Error: "accelerator " + accelerator + " unavailable"})
		os.Exit(1)
	}

	if codecName == CodecJSON {
		fmt.Fprintln(os.Stdout, "stray print from a model library")
	}
	_ = c.Write(os.Stdout, message{Type: msgReady, ModelID: model + "-v2", Engine: engine, Accelerator: accelerator, Version: "1.0"})

	mode := os.Getenv("POSENODE_TEST_WORKER_MODE")
	r := bufio.NewReader(os.Stdin)
	for {
		var req request
		if err := c.Read(r, &req); err != nil {
			os.Exit(0)
		}
		switch {
		case mode == "crash":
			os.Exit(4)
		case mode == "slow" && req.Seq == 1:
			time.Sleep(400 * time.Millisecond)
		case mode == "reject":
			_ = c.Write(os.Stdout, message{Type: msgError, Seq: req.Seq, Error: "bad frame"})
			continue
		}

		resp := message{Type: msgResult, Seq: req.Seq, DurationMs: 12.5}
		for i := range int(req.Seq % 3) {
			resp.Poses = append(resp.Poses, wirePose{
				Score:     float64(10 * (i + 1) * len(req.JPEG)),
				Keypoints: []wireKeypoint{{Name: "nose", X: float64(req.Width), Y: float64(req.Height)}},
			})
		}
		_ = c.Write(os.Stdout, resp)
	}
}

func loadHelper(t *testing.T, cfg Config) Model {
	t.Helper()
	m, err := NewLoader(testLogger()).Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWorkerInference(t *testing.T) {
	for _, codecName := range []string{CodecJSON, CodecMsgpack} {
		t.Run(codecName, func(t *testing.T) {
			m := loadHelper(t, helperConfig(t, codecName, "ok"))

			desc := m.Describe()
			if desc.ModelID != "movenet-v2" || desc.Engine != "openvino" || desc.Accelerator != "gpu" || desc.Version != "1.0" {
				t.Errorf("Describe() = %+v", desc)
			}

			frame := capture.Frame{Seq: 2, Width: 640, Height: 480, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
			res, err := m.Infer(context.Background(), frame)
			if err != nil {
				t.Fatalf("Infer: %v", err)
			}
			if len(res.Poses) != 2 {
				t.Fatalf("got %d poses, want 2", len(res.Poses))
			}
			if res.Poses[0].Score != 40 || res.Poses[1].Score != 80 {
				t.Errorf("scores = %v, %v; want 40, 80", res.Poses[0].Score, res.Poses[1].Score)
			}
			if kp, ok := res.Poses[0].Keypoint("nose"); !ok || kp.X != 640 || kp.Y != 480 {
				t.Errorf("nose = %+v, %v", kp, ok)
			}
			if res.Duration != 12500*time.Microsecond {
				t.Errorf("Duration = %v, want 12.5ms", res.Duration)
			}

			res, err = m.Infer(context.Background(), capture.Frame{Seq: 3})
			if err != nil {
				t.Fatalf("Infer: %v", err)
			}
			if len(res.Poses) != 0 {
				t.Errorf("got %d poses, want 0", len(res.Poses))
			}
		})
	}
}

func TestWorkerLoadFailures(t *testing.T) {
	tests := []struct {
		mode string
		cfg  func(Config) Config
	}{
		{"fail-load", nil},
		{"exit", nil},
		{"silent", func(c Config) Config { c.LoadTimeout = 200 * time.Millisecond; return c }},
		{"ok", func(c Config) Config { c.Command = ""; return c }},
		{"ok", func(c Config) Config { c.Codec = "protobuf"; return c }},
		{"ok", func(c Config) Config { c.Command = "/nonexistent/worker"; return c }},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := helperConfig(t, CodecJSON, tt.mode)
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			start := time.Now()
			m, err := NewLoader(testLogger()).Load(context.Background(), cfg)
			if err == nil {
				m.Close()
				t.Fatal("expected load error")
			}
			if time.Since(start) > 4*time.Second {
				t.Errorf("load failure took %v", time.Since(start))
			}
		})
	}
}

func TestWorkerCrashFailsLaterCalls(t *testing.T) {
	m := loadHelper(t, helperConfig(t, CodecMsgpack, "crash"))

	_, err := m.Infer(context.Background(), capture.Frame{Seq: 1})
	if !errors.Is(err, ErrWorkerExited) {
		t.Fatalf("Infer after crash = %v, want ErrWorkerExited", err)
	}
	if _, err := m.Infer(context.Background(), capture.Frame{Seq: 2}); !errors.Is(err, ErrWorkerExited) {
		t.Errorf("second Infer = %v, want ErrWorkerExited", err)
	}
}

func TestWorkerTimeoutDropsStaleResponse(t *testing.T) {
	cfg := helperConfig(t, CodecJSON, "slow")
	cfg.InferTimeout = 100 * time.Millisecond
	m := loadHelper(t, cfg)

	_, err := m.Infer(context.Background(), capture.Frame{Seq: 1, JPEG: []byte{1}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("slow Infer = %v, want deadline exceeded", err)
	}

	// Seq 1's late reply arrives while seq 2 waits; it must not be mistaken for seq 2.
	m.(*workerModel).cfg.InferTimeout = 2 * time.Second
	res, err := m.Infer(context.Background(), capture.Frame{Seq: 2, JPEG: []byte{1}})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(res.Poses) != 2 {
		t.Errorf("got %d poses, want 2 for seq 2", len(res.Poses))
	}
}

func TestWorkerErrorResponse(t *testing.T) {
	m := loadHelper(t, helperConfig(t, CodecJSON, "reject"))
	if _, err := m.Infer(context.Background(), capture.Frame{Seq: 5}); err == nil {
		t.Fatal("expected error response")
	}
}

func TestExpandCommand(t *testing.T) {
	cfg := Config{ModelID: "movenet", Engine: "dnn", Accelerator: "cpu", Codec: "json",
		Command: "python3 worker.py --model {model} --engine {engine} --device {accelerator} --codec {codec}"}
	want := "python3 worker.py --model movenet --engine dnn --device cpu --codec json"
	if got := expandCommand(cfg); got != want {
		t.Errorf("expandCommand() = %q, want %q", got, want)
	}
}

func TestParseWorkerLogLevel(t *testing.T) {
	tests := []struct {
		line, level, msg string
	}{
		{"[ERROR] model file missing", "error", "model file missing"},
		{"[WARNING] slow inference", "warning", "slow inference"},
		{"WARNING:root:low memory", "warning", "low memory"},
		{"CRITICAL:worker:dead", "fatal", "dead"},
		{"DEBUG:tensor shape: 1x3", "debug", "tensor shape: 1x3"},
		{"Loading model: movenet", "info", "Loading model: movenet"},
		{"plain", "info", "plain"},
		{"[unterminated", "info", "[unterminated"},
	}
	for _, tt := range tests {
		level, msg := ParseWorkerLogLevel(tt.line)
		if level != tt.level || msg != tt.msg {
			t.Errorf("ParseWorkerLogLevel(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.level, tt.msg)
		}
	}
}
