package transport

// EventType identifies the inbound events an adapter can surface.
type EventType string

const (
	// EventAudio carries one opaque audio fragment from the participant.
	EventAudio EventType = "audio"
	// EventStop asks the relay to flush whatever is buffered now.
	EventStop EventType = "stop"
	// EventLeave is an explicit goodbye from the participant.
	EventLeave EventType = "leave"
	// EventClosed reports that the underlying connection is gone. It is the
	// last event an adapter delivers.
	EventClosed EventType = "closed"
)

// Event is one inbound occurrence from the transport.
type Event struct {
	Type  EventType
	Seq   int
	Audio []byte
}

// Adapter translates between the concrete realtime transport and the
// orchestrator's event vocabulary. It carries no business logic, which keeps
// the orchestrator testable against a channel-backed fake.
type Adapter interface {
	// Inbound returns the event stream. The channel is closed after
	// EventClosed is delivered.
	Inbound() <-chan Event

	// PublishAudio sends one synthesized audio chunk. Chunks are published
	// incrementally as synthesis produces them.
	PublishAudio(turnID string, seq int, chunk []byte)

	// PublishText sends the assistant's reply text.
	PublishText(turnID, text string)

	// PublishState announces a session state change.
	PublishState(state string)

	// PublishError surfaces a session-scoped failure to the client.
	PublishError(code, source, detail string, retryable bool)

	// TurnEnd marks the end of one assistant turn.
	TurnEnd(turnID, reason string)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
