package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

type entry struct {
	session *Session
	release func()
}

// Registry owns every live Session. It is the only shared mutable structure
// across concurrent session handlers; all access goes through one mutex.
// Per-session processing runs independently once a handler holds a snapshot.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*entry
	byParticipant map[string]string
	idleTimeout   time.Duration
	onExpire      func(*Session)
}

// NewRegistry creates a registry that evicts sessions idle longer than
// idleTimeout once the janitor is running.
func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	return &Registry{
		sessions:      make(map[string]*entry),
		byParticipant: make(map[string]string),
		idleTimeout:   idleTimeout,
	}
}

// SetExpireHook registers a callback invoked for every session removed by the
// idle sweep. Used for metrics.
func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Create registers a new session for the participant. A participant can hold
// at most one session: if one already exists it is closed and replaced, which
// tolerates storefront tabs that reconnect without a clean leave.
func (r *Registry) Create(participantID, tenantID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		ParticipantID:  participantID,
		TenantID:       tenantID,
		State:          StateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	var displaced func()
	r.mu.Lock()
	if oldID, ok := r.byParticipant[participantID]; ok {
		displaced = r.closeLocked(oldID)
	}
	r.sessions[s.ID] = &entry{session: s}
	r.byParticipant[participantID] = s.ID
	r.mu.Unlock()

	if displaced != nil {
		displaced()
	}
	return clone(s)
}

// Get returns a snapshot of the session.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

// Touch refreshes the idle clock.
func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// SetState moves the session to the given state. Closed sessions are
// immutable; late transitions against them are silently dropped.
func (r *Registry) SetState(sessionID string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.State == StateClosed {
		return nil
	}
	e.session.State = state
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// SetPending records the in-flight understanding request id for the session.
// The orchestrator compares against it before applying a late result.
func (r *Registry) SetPending(sessionID, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.State == StateClosed {
		return nil
	}
	e.session.PendingRequestID = requestID
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

// PendingMatches reports whether requestID is still the session's in-flight
// request. A removed session never matches, so stale results are discarded.
func (r *Registry) PendingMatches(sessionID, requestID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	return e.session.PendingRequestID != "" && e.session.PendingRequestID == requestID
}

// SetContext replaces the advisory conversation context carried into the next
// understanding request.
func (r *Registry) SetContext(sessionID, context string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.State == StateClosed {
		return nil
	}
	e.session.Context = context
	return nil
}

// BindRelease attaches the function that tears down the session's external
// resources (transport pumps, in-flight request cancellation). Remove and the
// idle sweep run it exactly once before discarding the session.
func (r *Registry) BindRelease(sessionID string, release func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.release = release
	return nil
}

// Remove closes and discards the session. Removing an unknown or already
// removed session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	release := r.closeLocked(sessionID)
	r.mu.Unlock()
	if release != nil {
		release()
	}
}

// closeLocked transitions the session to Closed, unlinks it, and returns its
// release function for the caller to run outside the lock. Returns nil when
// the session does not exist.
func (r *Registry) closeLocked(sessionID string) func() {
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	e.session.State = StateClosed
	e.session.PendingRequestID = ""
	delete(r.sessions, sessionID)
	if cur, ok := r.byParticipant[e.session.ParticipantID]; ok && cur == sessionID {
		delete(r.byParticipant, e.session.ParticipantID)
	}
	release := e.release
	e.release = nil
	if release == nil {
		return func() {}
	}
	return release
}

// StartJanitor launches the periodic idle sweep. It stops when ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepIdle(r.idleTimeout)
			}
		}
	}()
}

// SweepIdle closes and removes sessions idle longer than maxIdle. Release
// hooks run outside the lock so an in-flight turn is cancelled rather than
// orphaned.
func (r *Registry) SweepIdle(maxIdle time.Duration) {
	now := time.Now().UTC()

	r.mu.Lock()
	var expired []*Session
	var releases []func()
	for id, e := range r.sessions {
		if now.Sub(e.session.LastActivityAt) < maxIdle {
			continue
		}
		expired = append(expired, clone(e.session))
		releases = append(releases, r.closeLocked(id))
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, release := range releases {
		release()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// ActiveCount returns the number of registered sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
