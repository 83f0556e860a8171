package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ostrella/voxcart/internal/audio"
	"github.com/ostrella/voxcart/internal/history"
	"github.com/ostrella/voxcart/internal/observability"
	"github.com/ostrella/voxcart/internal/session"
	"github.com/ostrella/voxcart/internal/synth"
	"github.com/ostrella/voxcart/internal/tools"
	"github.com/ostrella/voxcart/internal/transport"
	"github.com/ostrella/voxcart/internal/understand"
)

const (
	understandApology = "Sorry, I didn't catch that. Could you say it again?"
	toolApology       = "Sorry, I couldn't reach the store just now. Please try again in a moment."

	historySaveBudget    = 2 * time.Second
	historyContextBudget = 350 * time.Millisecond
	historyContextLimit  = 4
)

// Config bounds one assistant turn.
type Config struct {
	FlushFragmentCount int
	FlushByteCeiling   int
	TurnTimeout        time.Duration
	ToolTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushFragmentCount < 1 {
		c.FlushFragmentCount = 3
	}
	if c.FlushByteCeiling < 1 {
		c.FlushByteCeiling = 256 << 10
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 12 * time.Second
	}
	if c.ToolTimeout <= 0 || c.ToolTimeout >= c.TurnTimeout {
		c.ToolTimeout = 4 * time.Second
	}
	return c
}

// Orchestrator runs the per-session relay loop: it accumulates participant
// audio, drives the understanding, tool, and synthesis backends, and streams
// the reply back through the transport adapter. All turn bookkeeping for a
// session lives inside RunSession; backends are only reached through
// interfaces so the loop is testable end to end without a network.
type Orchestrator struct {
	registry      *session.Registry
	understanding understand.Backend
	synthesis     synth.Backend
	toolExec      tools.Executor
	historyStore  history.Store
	metrics       *observability.Metrics
	cfg           Config
	voice         synth.VoiceConfig
}

func NewOrchestrator(
	registry *session.Registry,
	understanding understand.Backend,
	synthesis synth.Backend,
	toolExec tools.Executor,
	historyStore history.Store,
	metrics *observability.Metrics,
	cfg Config,
	voice synth.VoiceConfig,
) *Orchestrator {
	return &Orchestrator{
		registry:      registry,
		understanding: understanding,
		synthesis:     synthesis,
		toolExec:      toolExec,
		historyStore:  historyStore,
		metrics:       metrics,
		cfg:           cfg.withDefaults(),
		voice:         voice,
	}
}

type turnOutcome struct {
	turnID string
	reason string
}

const (
	turnCompleted           = "completed"
	turnUnderstandingFailed = "understanding_failed"
	turnSynthesisFailed     = "synthesis_failed"
	turnCanceled            = "canceled"
)

// RunSession owns one session until the participant leaves, the connection
// drops, or ctx is canceled. It is the only goroutine that touches the
// session's buffers; the turn pipeline runs concurrently and reports back
// over a channel so results are applied here, never mid-flight.
func (o *Orchestrator) RunSession(ctx context.Context, s *session.Session, adapter transport.Adapter) error {
	o.metrics.SessionEvents.WithLabelValues("session_started").Inc()

	var (
		primary = audio.NewBuffer(o.cfg.FlushFragmentCount, o.cfg.FlushByteCeiling)
		queued  = audio.NewBuffer(o.cfg.FlushFragmentCount, o.cfg.FlushByteCeiling)

		turnDone      = make(chan turnOutcome, 1)
		turnCancel    context.CancelFunc
		turnActive    bool
		turnStartedAt time.Time
	)

	publishState := func(st session.State) {
		_ = o.registry.SetState(s.ID, st)
		adapter.PublishState(string(st))
	}

	startTurn := func(payload []byte) {
		id := uuid.NewString()
		_ = o.registry.SetPending(s.ID, id)
		publishState(session.StateAwaitingUnderstanding)

		snap := *s
		if cur, err := o.registry.Get(s.ID); err == nil {
			snap = *cur
		}

		turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
		turnCancel = cancel
		turnActive = true
		turnStartedAt = time.Now()

		go func() {
			turnDone <- o.runTurn(turnCtx, snap, adapter, id, payload)
		}()
	}

	shutdown := func() {
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		_ = o.registry.SetState(s.ID, session.StateClosing)
		o.registry.Remove(s.ID)
		_ = adapter.Close()
		o.metrics.SessionEvents.WithLabelValues("session_closed").Inc()
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return nil

		case evt, ok := <-adapter.Inbound():
			if !ok {
				shutdown()
				return nil
			}
			switch evt.Type {
			case transport.EventAudio:
				_ = o.registry.Touch(s.ID)
				if turnActive {
					// Overlapping speech waits its turn; it never preempts
					// the reply already in flight.
					queued.Append(evt.Audio)
					continue
				}
				wasEmpty := primary.Fragments() == 0
				decision := primary.Append(evt.Audio)
				if decision.ShouldFlush {
					startTurn(primary.Drain())
					continue
				}
				if wasEmpty && primary.Fragments() > 0 {
					publishState(session.StateBuffering)
				}

			case transport.EventStop:
				_ = o.registry.Touch(s.ID)
				if !turnActive && primary.Fragments() > 0 {
					startTurn(primary.Drain())
				}

			case transport.EventLeave, transport.EventClosed:
				shutdown()
				return nil
			}

		case out := <-turnDone:
			turnActive = false
			if turnCancel != nil {
				turnCancel()
				turnCancel = nil
			}
			if !o.registry.PendingMatches(s.ID, out.turnID) {
				// The session was replaced or swept while the turn ran.
				o.metrics.SessionEvents.WithLabelValues("stale_turn_result").Inc()
				continue
			}
			_ = o.registry.SetPending(s.ID, "")
			_ = o.registry.Touch(s.ID)
			adapter.TurnEnd(out.turnID, out.reason)
			o.metrics.Turns.WithLabelValues(out.reason).Inc()
			o.metrics.ObserveTurnLatency(time.Since(turnStartedAt))

			primary.Promote(queued)
			if primary.Over() && ctx.Err() == nil {
				startTurn(primary.Drain())
				continue
			}
			if primary.Fragments() > 0 {
				publishState(session.StateBuffering)
			} else {
				publishState(session.StateIdle)
			}
		}
	}
}

// runTurn executes one flush-to-reply pipeline. It may publish outbound
// messages and advance the session state, but never touches the buffers;
// the loop applies the outcome.
func (o *Orchestrator) runTurn(ctx context.Context, s session.Session, adapter transport.Adapter, turnID string, payload []byte) turnOutcome {
	reason := turnCompleted

	if s.Context == "" {
		s.Context = o.recentContext(ctx, s.ID)
	}

	res := o.understanding.Process(ctx, understand.Request{
		Audio:   payload,
		Context: s.Context,
		Tenant:  s.TenantID,
	})
	if res.Status == understand.StatusPending {
		res = o.understanding.Await(ctx, res)
	}

	var reply string
	switch res.Status {
	case understand.StatusCompleted:
		reply = strings.TrimSpace(res.Message)
		if len(res.ToolCalls) > 0 {
			reply = o.runTools(ctx, s, adapter, reply, res.ToolCalls)
		}
		if reply == "" {
			reply = understandApology
		}
	default:
		if ctx.Err() != nil {
			o.metrics.BackendErrors.WithLabelValues("understand", string(understand.ReasonTimeout)).Inc()
			adapter.PublishError("understanding_timeout", "understand", "turn deadline exceeded", true)
			adapter.PublishText(turnID, understandApology)
			return turnOutcome{turnID: turnID, reason: turnUnderstandingFailed}
		}
		o.metrics.BackendErrors.WithLabelValues("understand", string(res.Reason)).Inc()
		adapter.PublishError("understanding_failed", "understand", res.Detail, res.Reason != understand.ReasonParse)
		reply = understandApology
		reason = turnUnderstandingFailed
	}

	o.saveTurnBestEffort(history.TurnRecord{
		ID:        uuid.NewString(),
		TenantID:  s.TenantID,
		SessionID: s.ID,
		Role:      "assistant",
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})
	if reason == turnCompleted {
		// The reply becomes advisory context for the next utterance.
		_ = o.registry.SetContext(s.ID, reply)
	}

	if !o.speakReply(ctx, s.ID, adapter, turnID, reply) {
		if ctx.Err() != nil {
			return turnOutcome{turnID: turnID, reason: turnCanceled}
		}
		return turnOutcome{turnID: turnID, reason: turnSynthesisFailed}
	}
	return turnOutcome{turnID: turnID, reason: reason}
}

// runTools executes the model's requested actions under a short per-call
// ceiling. A tool failure degrades the turn to an apology instead of
// failing it; the reply still gets spoken.
func (o *Orchestrator) runTools(ctx context.Context, s session.Session, adapter transport.Adapter, reply string, calls []understand.ToolCall) string {
	_ = o.registry.SetState(s.ID, session.StateAwaitingTool)
	adapter.PublishState(string(session.StateAwaitingTool))

	parts := make([]string, 0, len(calls)+1)
	if reply != "" {
		parts = append(parts, reply)
	}
	for _, call := range calls {
		toolCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
		result, err := o.toolExec.Execute(toolCtx, s.TenantID, call)
		cancel()
		if err != nil {
			o.metrics.BackendErrors.WithLabelValues("tools", call.Name).Inc()
			o.metrics.SessionEvents.WithLabelValues("tool_degraded").Inc()
			adapter.PublishError("tool_failed", "tools", err.Error(), true)
			return toolApology
		}
		if spoken := strings.TrimSpace(result.Spoken); spoken != "" {
			parts = append(parts, spoken)
		}
	}
	return strings.Join(parts, " ")
}

// speakReply publishes the reply text, then streams synthesized audio
// chunk by chunk. The text always goes out first so a synthesis failure
// still leaves the participant with a readable answer.
func (o *Orchestrator) speakReply(ctx context.Context, sessionID string, adapter transport.Adapter, turnID, text string) bool {
	start := time.Now()

	_ = o.registry.SetState(sessionID, session.StateAwaitingSynthesis)
	adapter.PublishState(string(session.StateAwaitingSynthesis))
	adapter.PublishText(turnID, text)

	stream, err := o.synthesis.Synthesize(ctx, text, o.voice)
	if err != nil {
		if errors.Is(err, synth.ErrEmptyText) {
			return true
		}
		o.metrics.BackendErrors.WithLabelValues("synth", "request").Inc()
		adapter.PublishError("synthesis_failed", "synth", err.Error(), true)
		return false
	}

	seq := 0
	first := true
	for chunk := range stream.Chunks() {
		if first {
			first = false
			_ = o.registry.SetState(sessionID, session.StateSpeaking)
			adapter.PublishState(string(session.StateSpeaking))
			o.metrics.ObserveFirstAudioLatency(time.Since(start))
		}
		adapter.PublishAudio(turnID, seq, chunk)
		seq++
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			o.metrics.BackendErrors.WithLabelValues("synth", "stream").Inc()
			adapter.PublishError("synthesis_failed", "synth", err.Error(), true)
		}
		return false
	}
	return true
}

// recentContext rebuilds advisory context from the transcript after a
// reconnect, when the registry holds none yet. Best-effort with a short
// budget; an empty string is always acceptable.
func (o *Orchestrator) recentContext(ctx context.Context, sessionID string) string {
	if o.historyStore == nil {
		return ""
	}
	rctx, cancel := context.WithTimeout(ctx, historyContextBudget)
	defer cancel()
	recent, err := o.historyStore.Recent(rctx, sessionID, historyContextLimit)
	if err != nil || len(recent) == 0 {
		return ""
	}
	lines := make([]string, 0, len(recent))
	for _, r := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", r.Role, r.Content))
	}
	return strings.Join(lines, "\n")
}

func (o *Orchestrator) saveTurnBestEffort(record history.TurnRecord) {
	if o.historyStore == nil {
		return
	}
	go func(r history.TurnRecord) {
		saveCtx, cancel := context.WithTimeout(context.Background(), historySaveBudget)
		defer cancel()
		if err := o.historyStore.SaveTurn(saveCtx, r); err != nil {
			o.metrics.SessionEvents.WithLabelValues("history_save_failed").Inc()
		}
	}(record)
}
