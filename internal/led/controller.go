// Package led shows the pipeline state on a board LED.
package led

// Pattern is what the status LED shows.
type Pattern string

// Patterns.
const (
	PatternOff       Pattern = "off"
	PatternSolid     Pattern = "solid"
	PatternBlink     Pattern = "blink"
	PatternHeartbeat Pattern = "heartbeat"
)

// Controller drives a single status LED.
type Controller interface {
	Set(p Pattern) error
	// Name is the LED being driven, empty for the no-op controller.
	Name() string
}
