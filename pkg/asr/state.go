package asr

// State is the lifecycle phase of a transcription session. Transitions
// are driven by inbound server messages and local teardown; StateClosed
// is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingReady
	StateStreaming
	StateWaiting
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateStreaming:
		return "streaming"
	case StateWaiting:
		return "waiting"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateConnecting:    {StateAwaitingReady, StateClosed},
	StateAwaitingReady: {StateStreaming, StateWaiting, StateErrored, StateClosed},
	StateStreaming:     {StateErrored, StateClosed},
	StateWaiting:       {StateClosed},
	StateErrored:       {StateClosed},
	StateClosed:        {},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
