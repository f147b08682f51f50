package live

// Event is emitted to observers of a Controller.
type Event interface {
	EventType() string
}

// StateChangedEvent reports a state transition.
type StateChangedEvent struct {
	From State
	To   State
}

func (e StateChangedEvent) EventType() string { return "state.changed" }

// InputTranscriptEvent carries the live "currently transcribing" text. An
// empty Text clears the display.
type InputTranscriptEvent struct {
	Text string
}

func (e InputTranscriptEvent) EventType() string { return "input.transcript" }

// ComposingEvent reports whether the model is composing an answer.
type ComposingEvent struct {
	Active bool
}

func (e ComposingEvent) EventType() string { return "ai.composing" }

// TitleChangedEvent reports an automatic conversation title.
type TitleChangedEvent struct {
	Title string
}

func (e TitleChangedEvent) EventType() string { return "conversation.title" }

// SessionEndedEvent is emitted once per session after teardown.
type SessionEndedEvent struct {
	Outcome string
	Err     error
}

func (e SessionEndedEvent) EventType() string { return "session.ended" }

// Session outcomes.
const (
	OutcomeStopped    = "stopped"
	OutcomeEnded      = "ended"
	OutcomeTransport  = "transport_error"
	OutcomeCapture    = "capture_error"
	OutcomeInactivity = "inactivity"
	OutcomeStartError = "start_error"
)
