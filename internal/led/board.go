package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boardLEDs maps a device-tree model substring to the LED used for status.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "sys_led"},
	{"Orange Pi", "green_led"},
	{"Raspberry Pi", "ACT"},
}

// New returns a controller for the status LED. name overrides board
// detection. Without a usable LED a no-op controller is returned.
func New(name string, logger *slog.Logger) Controller {
	model := detectBoard(deviceTreeModelPath)
	if name == "" {
		name = statusLED(model)
	}
	if name == "" {
		logger.Info("No status LED for this board", "board_model", model)
		return newNoop(logger)
	}
	if _, err := os.Stat(SysfsRoot + "/" + name); err != nil {
		logger.Warn("Status LED not found", "led", name, "board_model", model, "error", err)
		return newNoop(logger)
	}
	logger.Info("Using status LED", "led", name, "board_model", model)
	return NewSysfs(SysfsRoot, name)
}

func statusLED(model string) string {
	for _, b := range boardLEDs {
		if strings.Contains(model, b.model) {
			return b.led
		}
	}
	return ""
}

// detectBoard reads the device tree model.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	// device tree strings are NUL terminated
	return strings.TrimRight(string(data), "\x00")
}
