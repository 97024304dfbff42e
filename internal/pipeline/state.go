package pipeline

// State is the orchestrator lifecycle state.
type State string

// Orchestrator states, in order.
const (
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateStopRequested State = "stop_requested"
	StateStopped       State = "stopped"
)

// AllStates lists the state names for the state gauge.
func AllStates() []string {
	return []string{
		string(StateStarting),
		string(StateRunning),
		string(StateStopRequested),
		string(StateStopped),
	}
}

func (s State) String() string {
	return string(s)
}
