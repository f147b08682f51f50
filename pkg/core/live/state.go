package live

// State is the session controller state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateEnding
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateEnding:
		return "ENDING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether a session is running in this state.
func (s State) Active() bool {
	switch s {
	case StateListening, StateThinking, StateSpeaking, StateEnding:
		return true
	default:
		return false
	}
}
