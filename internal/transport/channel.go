package transport

import "sync"

// Outbound is one message published through a ChannelAdapter, recorded for
// inspection.
type Outbound struct {
	Kind      string // "audio", "text", "state", "error", "turn_end"
	TurnID    string
	Seq       int
	Audio     []byte
	Text      string
	State     string
	Code      string
	Source    string
	Detail    string
	Retryable bool
	Reason    string
}

// ChannelAdapter is an in-process Adapter used by orchestrator tests and the
// session loop's lifecycle plumbing. Inbound events are pushed with Send;
// outbound messages are recorded and exposed on a channel.
type ChannelAdapter struct {
	inbound chan Event
	out     chan Outbound

	mu     sync.Mutex
	closed bool
}

func NewChannelAdapter() *ChannelAdapter {
	return &ChannelAdapter{
		inbound: make(chan Event, 256),
		out:     make(chan Outbound, 256),
	}
}

// Send injects an inbound event as if the transport had delivered it.
func (a *ChannelAdapter) Send(evt Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.inbound <- evt
}

// Outbound exposes everything published through the adapter.
func (a *ChannelAdapter) Outbound() <-chan Outbound { return a.out }

func (a *ChannelAdapter) Inbound() <-chan Event { return a.inbound }

func (a *ChannelAdapter) PublishAudio(turnID string, seq int, chunk []byte) {
	copied := make([]byte, len(chunk))
	copy(copied, chunk)
	a.record(Outbound{Kind: "audio", TurnID: turnID, Seq: seq, Audio: copied})
}

func (a *ChannelAdapter) PublishText(turnID, text string) {
	a.record(Outbound{Kind: "text", TurnID: turnID, Text: text})
}

func (a *ChannelAdapter) PublishState(state string) {
	a.record(Outbound{Kind: "state", State: state})
}

func (a *ChannelAdapter) PublishError(code, source, detail string, retryable bool) {
	a.record(Outbound{Kind: "error", Code: code, Source: source, Detail: detail, Retryable: retryable})
}

func (a *ChannelAdapter) TurnEnd(turnID, reason string) {
	a.record(Outbound{Kind: "turn_end", TurnID: turnID, Reason: reason})
}

func (a *ChannelAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.inbound <- Event{Type: EventClosed}
	close(a.inbound)
	return nil
}

func (a *ChannelAdapter) record(o Outbound) {
	select {
	case a.out <- o:
	default:
	}
}
