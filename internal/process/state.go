package process

// State represents the lifecycle state of a Process.
type State string

// Process states.
const (
	StateRunning  State = "running"  // Started, not yet asked to stop
	StateStopping State = "stopping" // SIGINT sent, waiting for exit
	StateExited   State = "exited"   // Wait returned
)
