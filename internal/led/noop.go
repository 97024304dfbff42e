package led

import "log/slog"

// noop is used on boards without a known status LED.
type noop struct {
	logger *slog.Logger
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(p Pattern) error {
	n.logger.Debug("LED control not available", "pattern", p)
	return nil
}

func (n *noop) Name() string { return "" }
