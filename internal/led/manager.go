package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/pipeline"
)

// Manager mirrors the pipeline on the status LED:
//
//	starting        blink
//	running         solid, heartbeat after a failed write until the next success
//	stop_requested  blink
//	stopped         off
type Manager struct {
	controller Controller
	bus        *events.Bus
	logger     *slog.Logger

	mu       sync.Mutex
	state    pipeline.State
	degraded bool
	current  Pattern
	unsubs   []func()
}

// NewManager creates a manager. Call Start to follow bus events.
func NewManager(controller Controller, bus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{controller: controller, bus: bus, logger: logger}
}

// Start subscribes to pipeline and sink events.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubs != nil {
		return
	}
	m.unsubs = []func(){
		m.bus.Subscribe(m.handleState),
		m.bus.Subscribe(m.handleSinkError),
		m.bus.Subscribe(m.handleRecordWritten),
	}
	m.logger.Debug("LED manager started", "led", m.controller.Name())
}

// Stop unsubscribes and switches the LED off.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.mu.Unlock()

	m.apply(PatternOff)
}

func (m *Manager) handleState(e events.PipelineStateEvent) {
	m.mu.Lock()
	m.state = pipeline.State(e.State)
	m.mu.Unlock()
	m.update()
}

func (m *Manager) handleSinkError(events.SinkErrorEvent) {
	m.mu.Lock()
	m.degraded = true
	m.mu.Unlock()
	m.update()
}

func (m *Manager) handleRecordWritten(events.RecordWrittenEvent) {
	m.mu.Lock()
	m.degraded = false
	m.mu.Unlock()
	m.update()
}

// Pattern returns the pattern last applied.
func (m *Manager) Pattern() Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) update() {
	m.mu.Lock()
	var p Pattern
	switch m.state {
	case pipeline.StateStarting, pipeline.StateStopRequested:
		p = PatternBlink
	case pipeline.StateRunning:
		p = PatternSolid
		if m.degraded {
			p = PatternHeartbeat
		}
	case pipeline.StateStopped:
		p = PatternOff
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.apply(p)
}

func (m *Manager) apply(p Pattern) {
	m.mu.Lock()
	if m.current == p {
		m.mu.Unlock()
		return
	}
	m.current = p
	m.mu.Unlock()

	if err := m.controller.Set(p); err != nil {
		m.logger.Warn("Failed to set status LED", "led", m.controller.Name(), "pattern", p, "error", err)
		return
	}
	m.logger.Debug("Status LED updated", "pattern", p)
}
