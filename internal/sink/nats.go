package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	posenats "github.com/smazurov/posenode/internal/nats"
)

// Publisher is the part of the NATS client the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each record as JSON on posenode.poses.<measurement>.
// While the client is offline records are skipped without error.
type NATS struct {
	pub    Publisher
	logger *slog.Logger
}

// NewNATS creates a NATS sink on top of a connected or offline client.
func NewNATS(pub Publisher, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{pub: pub, logger: logger}
}

// WriteRecord publishes the record.
func (n *NATS) WriteRecord(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := posenats.PoseRecordMessage{
		Measurement: rec.Measurement,
		Timestamp:   rec.Time.UTC().Format(time.RFC3339Nano),
		Tags:        rec.Tags,
		Subjects:    rec.Fields,
	}
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	err = n.pub.Publish(posenats.SubjectPoses(rec.Measurement), data)
	if errors.Is(err, posenats.ErrNotConnected) {
		n.logger.Debug("NATS offline, record not published", "measurement", rec.Measurement)
		return nil
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", rec.Measurement, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (n *NATS) Close() error { return nil }
