package nats

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned by Publish while the client is offline.
var ErrNotConnected = errors.New("nats: not connected")

// Client is the node's NATS connection. It publishes records, state and
// errors, and receives stop commands. Gracefully degrades when NATS is
// unavailable.
type Client struct {
	url       string
	node      string
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *slog.Logger
	mu        sync.RWMutex
	onStop    func(ControlMessage)
	connected bool
}

// NewClient creates a new NATS client for the node.
func NewClient(url, node string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if node == "" {
		node = DefaultName
	}

	return &Client{
		url:    url,
		node:   node,
		logger: logger.With("component", "nats-client", "node", node),
	}
}

// Node returns the node name used in messages.
func (c *Client) Node() string {
	return c.node
}

// Connect establishes a connection to the NATS server.
// On failure the client stays usable in offline mode.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name("posenode-" + c.node),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			} else {
				c.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.logger.Warn("Failed to connect to NATS, running in offline mode", "error", err)
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to NATS", "url", c.url)

	c.subscribeControlLocked()

	return nil
}

// subscribeControlLocked subscribes to stop commands (must hold lock).
// The nats client restores the subscription after a reconnect.
func (c *Client) subscribeControlLocked() {
	if c.conn == nil || c.onStop == nil || c.sub != nil {
		return
	}

	sub, err := c.conn.Subscribe(SubjectControlStop, c.handleControl)
	if err != nil {
		c.logger.Warn("Failed to subscribe to control commands", "error", err)
		return
	}
	if err := c.conn.Flush(); err != nil {
		c.logger.Debug("Flush after subscribe failed", "error", err)
	}
	c.sub = sub
}

func (c *Client) handleControl(msg *nats.Msg) {
	ctrl, err := UnmarshalControl(msg.Data)
	if err != nil {
		c.logger.Warn("Failed to unmarshal control message", "error", err)
		return
	}
	if ctrl.Node != "" && ctrl.Node != c.node {
		return
	}

	c.logger.Info("Received control command", "action", ctrl.Action, "reason", ctrl.Reason)

	c.mu.RLock()
	fn := c.onStop
	c.mu.RUnlock()

	if ctrl.Action == ActionStop && fn != nil {
		fn(ctrl)
	}
}

// OnStop sets the callback for stop commands.
func (c *Client) OnStop(fn func(ControlMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStop = fn

	if c.conn != nil && c.connected {
		c.subscribeControlLocked()
	}
}

// Publish sends raw data on a subject.
// Returns ErrNotConnected while offline.
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// PublishState publishes a pipeline state change.
// No-op if not connected (graceful degradation).
func (c *Client) PublishState(m StateMessage) {
	if m.Node == "" {
		m.Node = c.node
	}
	c.publishMessage(SubjectState, m)
}

// PublishSinkError publishes a failed record write.
// No-op if not connected (graceful degradation).
func (c *Client) PublishSinkError(m SinkErrorMessage) {
	if m.Node == "" {
		m.Node = c.node
	}
	c.publishMessage(SubjectSinkErrors, m)
}

func (c *Client) publishMessage(subject string, m interface{ Marshal() ([]byte, error) }) {
	data, err := m.Marshal()
	if err != nil {
		c.logger.Warn("Failed to marshal message", "subject", subject, "error", err)
		return
	}
	err = c.Publish(subject, data)
	if err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Warn("Failed to publish", "subject", subject, "error", err)
	}
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Flush()
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.logger.Debug("NATS client closed")
}

// ControlPublisher sends control commands to running nodes.
type ControlPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewControlPublisher creates a publisher for control commands.
func NewControlPublisher(url string, logger *slog.Logger) (*ControlPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("posenode-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ControlPublisher{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Stop asks a node to shut down. An empty node addresses every node.
func (p *ControlPublisher) Stop(node, reason string) error {
	msg := ControlMessage{
		Action:    ActionStop,
		Node:      node,
		Timestamp: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}

	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	if err := p.conn.Publish(SubjectControlStop, data); err != nil {
		return err
	}
	if err := p.conn.Flush(); err != nil {
		return err
	}

	p.logger.Info("Sent stop command", "node", node, "reason", reason)
	return nil
}

// Close closes the control publisher connection.
func (p *ControlPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
