package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strconv"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/smazurov/posenode/internal/version"
)

// InfluxDB defaults.
const (
	DefaultInfluxPort     = 8086
	DefaultInfluxDatabase = "mmbox"
	DefaultInfluxTimeout  = 10 * time.Second
	pingTimeout           = 2 * time.Second
)

// InfluxConfig configures the InfluxDB 1.x sink.
type InfluxConfig struct {
	// Host is a bare host name or a full URL. A bare host gets Port appended.
	Host      string
	Port      int
	Username  string
	Password  string
	Database  string
	Precision string
	Timeout   time.Duration
	// Tags are added to every point; record tags win on conflict.
	Tags map[string]string
}

// Addr returns the HTTP address of the server.
func (c InfluxConfig) Addr() string {
	if strings.Contains(c.Host, "://") {
		return c.Host
	}
	port := c.Port
	if port == 0 {
		port = DefaultInfluxPort
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// LogValue hides the password.
func (c InfluxConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr()),
		slog.String("database", c.Database),
		slog.String("username", c.Username),
	)
}

// ErrWriteInFlight is returned while an earlier write that outlived its
// context is still waiting on the server.
var ErrWriteInFlight = errors.New("influx write still in flight")

// influxClient is the part of the InfluxDB client the sink uses.
type influxClient interface {
	Ping(timeout time.Duration) (time.Duration, string, error)
	Write(bp client.BatchPoints) error
	Close() error
}

// Influx writes one point per record. Each subject is a string field holding
// the pose as JSON.
type Influx struct {
	cfg    InfluxConfig
	client influxClient
	logger *slog.Logger

	// inflight holds a token for the duration of each client.Write.
	inflight chan struct{}
}

// NewInflux creates the sink. An unreachable server is logged, not an error:
// writes are best effort and the server may come up later.
func NewInflux(cfg InfluxConfig, logger *slog.Logger) (*Influx, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Database == "" {
		cfg.Database = DefaultInfluxDatabase
	}
	if cfg.Precision == "" {
		cfg.Precision = "ms"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultInfluxTimeout
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      cfg.Addr(),
		Username:  cfg.Username,
		Password:  cfg.Password,
		Timeout:   cfg.Timeout,
		UserAgent: version.UserAgent(),
	})
	if err != nil {
		return nil, fmt.Errorf("influx client %s: %w", cfg.Addr(), err)
	}

	s := &Influx{cfg: cfg, client: c, logger: logger, inflight: make(chan struct{}, 1)}
	s.ping()
	return s, nil
}

func (s *Influx) ping() {
	rtt, version, err := s.client.Ping(pingTimeout)
	if err != nil {
		s.logger.Warn("InfluxDB not reachable, writes will be attempted anyway", "config", s.cfg, "error", err)
		return
	}
	s.logger.Info("Connected to InfluxDB", "config", s.cfg, "version", version, "rtt", rtt)
}

// Point converts a record into an InfluxDB point.
func (s *Influx) Point(rec Record) (*client.Point, error) {
	fields := make(map[string]any, len(rec.Fields))
	for _, id := range rec.Fields.Subjects() {
		data, err := rec.Fields[id].MarshalText()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
		fields[id] = string(data)
	}

	tags := make(map[string]string, len(s.cfg.Tags)+len(rec.Tags))
	maps.Copy(tags, s.cfg.Tags)
	maps.Copy(tags, rec.Tags)

	return client.NewPoint(rec.Measurement, tags, fields, rec.Time)
}

// WriteRecord writes the record as a single-point batch.
func (s *Influx) WriteRecord(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Fields.Empty() {
		return nil
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.cfg.Database,
		Precision: s.cfg.Precision,
	})
	if err != nil {
		return err
	}

	pt, err := s.Point(rec)
	if err != nil {
		return err
	}
	bp.AddPoint(pt)

	select {
	case s.inflight <- struct{}{}:
	default:
		return fmt.Errorf("influx write %s: %w", rec.Measurement, ErrWriteInFlight)
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-s.inflight }()
		done <- s.client.Write(bp)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("influx write %s: %w", rec.Measurement, err)
		}
		s.logger.Debug("Wrote record", "measurement", rec.Measurement, "subjects", len(rec.Fields))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("influx write %s: %w", rec.Measurement, ctx.Err())
	}
}

// Close releases idle connections.
func (s *Influx) Close() error {
	return s.client.Close()
}
