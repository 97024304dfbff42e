package led

import (
	"fmt"
	"os"
	"path/filepath"
)

// SysfsRoot is where the kernel exposes LEDs.
const SysfsRoot = "/sys/class/leds"

// blink timing in milliseconds for the "timer" trigger.
const blinkDelayMs = "250"

// Sysfs drives an LED through /sys/class/leds/<name>.
type Sysfs struct {
	dir  string
	name string
}

// NewSysfs returns a controller for the LED name under root.
func NewSysfs(root, name string) *Sysfs {
	return &Sysfs{dir: filepath.Join(root, name), name: name}
}

// Name implements Controller.
func (s *Sysfs) Name() string { return s.name }

// Set implements Controller.
func (s *Sysfs) Set(p Pattern) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("LED %q: %w", s.name, err)
	}

	switch p {
	case PatternOff:
		return s.write(map[string]string{"trigger": "none", "brightness": "0"}, "trigger", "brightness")
	case PatternSolid:
		return s.write(map[string]string{"trigger": "none", "brightness": "1"}, "trigger", "brightness")
	case PatternHeartbeat:
		return s.write(map[string]string{"trigger": "heartbeat"}, "trigger")
	case PatternBlink:
		// delay_on/delay_off only appear once the timer trigger is active
		return s.write(map[string]string{
			"trigger":   "timer",
			"delay_on":  blinkDelayMs,
			"delay_off": blinkDelayMs,
		}, "trigger", "delay_on", "delay_off")
	default:
		return fmt.Errorf("unknown LED pattern %q", p)
	}
}

func (s *Sysfs) write(values map[string]string, order ...string) error {
	for _, attr := range order {
		if err := os.WriteFile(filepath.Join(s.dir, attr), []byte(values[attr]), 0o644); err != nil {
			return fmt.Errorf("LED %q %s: %w", s.name, attr, err)
		}
	}
	return nil
}
