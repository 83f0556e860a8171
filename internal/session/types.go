package session

import "time"

// State tracks where a session is in its turn lifecycle.
type State string

const (
	StateIdle                  State = "idle"
	StateBuffering             State = "buffering"
	StateAwaitingUnderstanding State = "awaiting_understanding"
	StateAwaitingTool          State = "awaiting_tool"
	StateAwaitingSynthesis     State = "awaiting_synthesis"
	StateSpeaking              State = "speaking"
	StateClosing               State = "closing"
	StateClosed                State = "closed"
)

// Session is one active voice interaction between a storefront participant
// and the assistant.
type Session struct {
	ID               string    `json:"session_id"`
	ParticipantID    string    `json:"participant_id"`
	TenantID         string    `json:"tenant_id"`
	State            State     `json:"state"`
	PendingRequestID string    `json:"pending_request_id,omitempty"`
	Context          string    `json:"context,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
}

// InTurn reports whether an understanding, tool, or synthesis step is in
// flight for this session.
func (s *Session) InTurn() bool {
	switch s.State {
	case StateAwaitingUnderstanding, StateAwaitingTool, StateAwaitingSynthesis, StateSpeaking:
		return true
	default:
		return false
	}
}

// CreateRequest is the join payload for a new voice session.
type CreateRequest struct {
	ParticipantID string `json:"participant_id"`
	TenantID      string `json:"tenant_id"`
}

// CreateResponse is returned after a successful join.
type CreateResponse struct {
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	TenantID      string    `json:"tenant_id"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	IdleTTLMS     int64     `json:"idle_ttl_ms"`
}
