package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/posenode/internal/logging"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startLoggingWatcher(t *testing.T, path string, opts ...WatcherOption[logging.Config]) *Watcher[logging.Config] {
	t.Helper()
	opts = append([]WatcherOption[logging.Config]{WithDebounce[logging.Config](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger(), opts...)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return w
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	received := make(chan logging.Config, 1)
	w := startLoggingWatcher(t, path)
	w.OnReload(func(cfg logging.Config) { received <- cfg })

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\npipeline = \"warn\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Level != "debug" || cfg.Modules["pipeline"] != "warn" {
			t.Errorf("got %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherReloadsOnAtomicReplace(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	received := make(chan logging.Config, 1)
	w := startLoggingWatcher(t, path)
	w.OnReload(func(cfg logging.Config) { received <- cfg })

	tmp := filepath.Join(filepath.Dir(path), ".config.toml.swp")
	if err := os.WriteFile(tmp, []byte("[logging]\nlevel = \"error\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Level != "error" {
			t.Errorf("Level = %q, want error", cfg.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	var calls atomic.Int32
	w := startLoggingWatcher(t, path)
	w.OnReload(func(logging.Config) { calls.Add(1) })

	sibling := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(sibling, []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for unrelated file", n)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	var calls atomic.Int32
	w := startLoggingWatcher(t, path, WithDebounce[logging.Config](150*time.Millisecond))
	w.OnReload(func(logging.Config) { calls.Add(1) })

	for _, level := range []string{"debug", "warn", "error", "info", "debug"} {
		if err := os.WriteFile(path, []byte("[logging]\nlevel = \""+level+"\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestWatcherErrorHandlerKeepsHandlersQuiet(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	errCh := make(chan error, 1)
	var calls atomic.Int32
	w := startLoggingWatcher(t, path, WithErrorHandler[logging.Config](func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}))
	w.OnReload(func(logging.Config) { calls.Add(1) })

	if err := os.WriteFile(path, []byte("[logging\nlevel ="), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
	if calls.Load() != 0 {
		t.Error("handlers must not run on a failed load")
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	var first, second atomic.Int32
	done := make(chan struct{}, 1)
	w := startLoggingWatcher(t, path)
	unsubscribe := w.OnReload(func(logging.Config) { first.Add(1) })
	w.OnReload(func(logging.Config) {
		second.Add(1)
		done <- struct{}{}
	})
	unsubscribe()

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if first.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
	if second.Load() != 1 {
		t.Errorf("second handler called %d times, want 1", second.Load())
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	path := writeTOML(t, "[logging]\nlevel = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	w := NewConfigWatcher(path, LoadLoggingConfig, newTestLogger())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not exit after cancel")
	}
	if err := w.Stop(); err != nil && !errors.Is(err, os.ErrClosed) {
		t.Errorf("Stop after cancel: %v", err)
	}
}

func TestWatcherStartFailsForMissingDir(t *testing.T) {
	w := NewConfigWatcher(filepath.Join(t.TempDir(), "nope", "config.toml"), LoadLoggingConfig, newTestLogger())
	if err := w.Start(context.Background()); err == nil {
		_ = w.Stop()
		t.Fatal("expected error for missing directory")
	}
}
