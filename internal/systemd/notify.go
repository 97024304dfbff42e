// Package systemd reports pipeline state to the service manager over the
// sd_notify protocol. Without NOTIFY_SOCKET every call is a no-op.
package systemd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/pipeline"
)

// NotifyFunc sends one sd_notify message. It matches daemon.SdNotify with
// unsetEnvironment bound to false.
type NotifyFunc func(state string) (bool, error)

func sdNotify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Notifier translates pipeline state events into sd_notify messages and
// keeps the watchdog fed while the pipeline runs.
type Notifier struct {
	notify NotifyFunc
	logger *slog.Logger

	mu      sync.Mutex
	state   string
	unsub   func()
	stopped bool
}

// NewNotifier creates a notifier. A nil notify uses the real socket.
func NewNotifier(notify NotifyFunc, logger *slog.Logger) *Notifier {
	if notify == nil {
		notify = sdNotify
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{notify: notify, logger: logger.With("component", "sd-notify")}
}

// Attach starts following state events on bus.
func (n *Notifier) Attach(bus *events.Bus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unsub != nil || bus == nil {
		return
	}
	n.unsub = bus.Subscribe(n.HandleState)
}

// Detach stops following state events.
func (n *Notifier) Detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unsub != nil {
		n.unsub()
		n.unsub = nil
	}
	n.stopped = true
}

// HandleState sends the message matching a state transition.
func (n *Notifier) HandleState(e events.PipelineStateEvent) {
	n.mu.Lock()
	n.state = e.State
	n.mu.Unlock()

	switch pipeline.State(e.State) {
	case pipeline.StateStarting:
		n.send("STATUS=Starting capture and loading model")
	case pipeline.StateRunning:
		n.send(daemon.SdNotifyReady + "\nSTATUS=Running")
	case pipeline.StateStopRequested:
		status := "STATUS=Stopping"
		if e.Reason != "" {
			status += " (" + e.Reason + ")"
		}
		n.send(daemon.SdNotifyStopping + "\n" + status)
	case pipeline.StateStopped:
		n.send("STATUS=Stopped")
	}
}

// Watchdog sends WATCHDOG=1 at half the interval systemd asks for, but only
// while the pipeline is running. It returns when ctx is done or immediately
// if the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Invalid watchdog configuration", "error", err)
		return
	}
	if interval <= 0 {
		return
	}
	n.watchdog(ctx, interval/2)
}

func (n *Notifier) watchdog(ctx context.Context, every time.Duration) {
	n.logger.Debug("Watchdog enabled", "interval", every)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.mu.Lock()
			alive := n.state == string(pipeline.StateRunning) && !n.stopped
			n.mu.Unlock()
			if alive {
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify", "state", state)
	}
}
