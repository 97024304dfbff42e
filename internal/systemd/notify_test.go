package systemd

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/posenode/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	r.sent = append(r.sent, state)
	r.mu.Unlock()
	r.ch <- state
	return true, nil
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no notification")
		return ""
	}
}

func TestHandleState(t *testing.T) {
	tests := []struct {
		name  string
		event events.PipelineStateEvent
		want  []string
	}{
		{"starting", events.PipelineStateEvent{State: "starting"}, []string{"STATUS=Starting"}},
		{"running", events.PipelineStateEvent{State: "running", Previous: "starting"}, []string{"READY=1", "STATUS=Running"}},
		{"stop requested", events.PipelineStateEvent{State: "stop_requested", Reason: "remote"}, []string{"STOPPING=1", "STATUS=Stopping (remote)"}},
		{"stopped", events.PipelineStateEvent{State: "stopped"}, []string{"STATUS=Stopped"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			n := NewNotifier(rec.notify, quietLogger())
			n.HandleState(tt.event)

			got := rec.next(t)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("notification %q missing %q", got, want)
				}
			}
		})
	}
}

func TestUnknownStateIsIgnored(t *testing.T) {
	rec := newRecorder()
	n := NewNotifier(rec.notify, quietLogger())
	n.HandleState(events.PipelineStateEvent{State: "paused"})

	select {
	case s := <-rec.ch:
		t.Errorf("unexpected notification %q", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAttachFollowsBus(t *testing.T) {
	bus := events.New()
	rec := newRecorder()
	n := NewNotifier(rec.notify, quietLogger())
	n.Attach(bus)
	defer n.Detach()

	bus.Publish(events.PipelineStateEvent{State: "running"})
	if got := rec.next(t); !strings.HasPrefix(got, "READY=1") {
		t.Errorf("notification = %q", got)
	}
}

func TestWatchdogOnlyWhileRunning(t *testing.T) {
	rec := newRecorder()
	n := NewNotifier(rec.notify, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.watchdog(ctx, 10*time.Millisecond)
	}()

	select {
	case s := <-rec.ch:
		t.Fatalf("watchdog fired before running: %q", s)
	case <-time.After(50 * time.Millisecond):
	}

	n.HandleState(events.PipelineStateEvent{State: "running"})
	rec.next(t) // READY=1
	if got := rec.next(t); got != "WATCHDOG=1" {
		t.Errorf("notification = %q, want WATCHDOG=1", got)
	}

	cancel()
	<-done
}

func TestNotifySocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", path)

	n := NewNotifier(nil, quietLogger())
	n.HandleState(events.PipelineStateEvent{State: "running"})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	nr, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:nr]); !strings.HasPrefix(got, "READY=1") {
		t.Errorf("datagram = %q", got)
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	n := NewNotifier(newRecorder().notify, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Watchdog(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog should return when systemd did not enable it")
	}
}
