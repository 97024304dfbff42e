package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Embedded server defaults.
const (
	DefaultPort         = 4222
	DefaultHost         = "127.0.0.1"
	DefaultName         = "posenode"
	DefaultReadyTimeout = 5 * time.Second

	// A pose record with a few dozen subjects stays well below this.
	maxPayload = 1 << 20
)

// ServerOptions configures the embedded server a standalone node runs when no
// broker is available on the network.
type ServerOptions struct {
	Port         int
	Host         string
	Name         string
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// Server is an embedded NATS server. Its own log lines go to the slog logger
// at matching levels.
type Server struct {
	ns     *server.Server
	opts   ServerOptions
	logger *slog.Logger
}

// NewServer fills in defaults. Start must be called before use.
func NewServer(opts ServerOptions) *Server {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger.With("component", "nats-server")}
}

// Start runs the server and waits until it accepts connections.
func (s *Server) Start() error {
	ns, err := server.NewServer(&server.Options{
		Host:       s.opts.Host,
		Port:       s.opts.Port,
		ServerName: s.opts.Name,
		NoSigs:     true,
		MaxPayload: maxPayload,
	})
	if err != nil {
		return fmt.Errorf("embedded nats %s:%d: %w", s.opts.Host, s.opts.Port, err)
	}

	debug := s.logger.Enabled(context.Background(), slog.LevelDebug)
	ns.SetLoggerV2(serverLog{s.logger}, debug, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(s.opts.ReadyTimeout) {
		ns.Shutdown()
		return fmt.Errorf("embedded nats not ready after %s", s.opts.ReadyTimeout)
	}

	s.ns = ns
	s.logger.Info("Embedded NATS server started", "url", s.ClientURL(), "name", s.opts.Name)
	return nil
}

// Stop shuts the server down and waits for it.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
	s.logger.Info("Embedded NATS server stopped")
}

// ClientURL is the URL local clients connect to.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}

// NumClients is the number of connected clients, 0 when stopped.
func (s *Server) NumClients() int {
	if s.ns == nil {
		return 0
	}
	return s.ns.NumClients()
}

// serverLog adapts slog to the nats-server logger interface.
type serverLog struct {
	logger *slog.Logger
}

func (l serverLog) Noticef(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l serverLog) Warnf(format string, v ...any) { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l serverLog) Fatalf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l serverLog) Errorf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l serverLog) Debugf(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l serverLog) Tracef(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
