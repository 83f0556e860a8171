package transport

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ostrella/voxcart/internal/observability"
	"github.com/ostrella/voxcart/internal/protocol"
)

const (
	outboundQueueSize = 256
	writeTimeout      = 10 * time.Second
	readTimeout       = 120 * time.Second
	maxMessageBytes   = 2 << 20
)

// WebSocketAdapter bridges one gorilla websocket connection to the
// orchestrator's event vocabulary. Reads and writes each run on their own
// pump so the orchestrator never blocks on the network.
type WebSocketAdapter struct {
	sessionID string
	conn      *websocket.Conn
	metrics   *observability.Metrics

	inbound  chan Event
	outbound chan any

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewWebSocketAdapter wraps an upgraded connection. Start must be called
// before the adapter delivers events.
func NewWebSocketAdapter(sessionID string, conn *websocket.Conn, metrics *observability.Metrics) *WebSocketAdapter {
	return &WebSocketAdapter{
		sessionID: sessionID,
		conn:      conn,
		metrics:   metrics,
		inbound:   make(chan Event, 256),
		outbound:  make(chan any, outboundQueueSize),
	}
}

// Start launches the read and write pumps. They stop when ctx is cancelled
// or the peer disconnects.
func (a *WebSocketAdapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.writePump(ctx)
	go a.readPump(ctx)
}

func (a *WebSocketAdapter) Inbound() <-chan Event { return a.inbound }

func (a *WebSocketAdapter) PublishAudio(turnID string, seq int, chunk []byte) {
	a.enqueue(protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudioChunk,
		SessionID:   a.sessionID,
		TurnID:      turnID,
		Seq:         seq,
		AudioBase64: base64.StdEncoding.EncodeToString(chunk),
	})
}

func (a *WebSocketAdapter) PublishText(turnID, text string) {
	a.enqueue(protocol.AssistantText{
		Type:      protocol.TypeAssistantText,
		SessionID: a.sessionID,
		TurnID:    turnID,
		Text:      text,
	})
}

func (a *WebSocketAdapter) PublishState(state string) {
	a.enqueue(protocol.StateEvent{
		Type:      protocol.TypeStateEvent,
		SessionID: a.sessionID,
		State:     state,
	})
}

func (a *WebSocketAdapter) PublishError(code, source, detail string, retryable bool) {
	a.enqueue(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: a.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

func (a *WebSocketAdapter) TurnEnd(turnID, reason string) {
	a.enqueue(protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: a.sessionID,
		TurnID:    turnID,
		Reason:    reason,
	})
}

func (a *WebSocketAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		err = a.conn.Close()
	})
	return err
}

// enqueue keeps websocket writes single-threaded; messages are dropped when
// the outbound queue is saturated rather than blocking the orchestrator.
func (a *WebSocketAdapter) enqueue(msg any) {
	select {
	case a.outbound <- msg:
	default:
		if a.metrics != nil {
			a.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
		}
	}
}

func (a *WebSocketAdapter) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.outbound:
			_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := a.conn.WriteJSON(msg); err != nil {
				_ = a.Close()
				return
			}
			if a.metrics != nil {
				if t, ok := messageTypeOf(msg); ok {
					a.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}
}

func (a *WebSocketAdapter) readPump(ctx context.Context) {
	defer func() {
		a.inbound <- Event{Type: EventClosed}
		close(a.inbound)
	}()

	a.conn.SetReadLimit(maxMessageBytes)
	_ = a.conn.SetReadDeadline(time.Now().Add(readTimeout))
	a.conn.SetPongHandler(func(string) error {
		_ = a.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			a.PublishError("invalid_client_message", "transport", err.Error(), false)
			continue
		}

		var evt Event
		switch m := parsed.(type) {
		case protocol.ClientAudioChunk:
			audio, err := base64.StdEncoding.DecodeString(m.AudioBase64)
			if err != nil {
				a.PublishError("invalid_audio_payload", "transport", err.Error(), false)
				continue
			}
			evt = Event{Type: EventAudio, Seq: m.Seq, Audio: audio}
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionStop:
				evt = Event{Type: EventStop}
			case protocol.ActionLeave:
				evt = Event{Type: EventLeave}
			default:
				continue
			}
		default:
			continue
		}

		if a.metrics != nil {
			if t, ok := messageTypeOf(parsed); ok {
				a.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		}
		select {
		case <-ctx.Done():
			return
		case a.inbound <- evt:
		}
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantText:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
