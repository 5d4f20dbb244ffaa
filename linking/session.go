package linking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind - The flow a session belongs to
type Kind string

const (
	KindVerify    Kind = "verify"
	KindUnverify  Kind = "unverify"
	KindReconcile Kind = "update"
)

// Stage - The step a session is waiting in
type Stage string

const (
	StageIdle                 Stage = "Idle"
	StageAwaitingConfirmation Stage = "AwaitingConfirmation"
	StageAwaitingPhraseProof  Stage = "AwaitingPhraseProof"
	StageClosed               Stage = "Closed"
)

// Session - The in-memory state of one running flow for one user
type Session struct {
	ID      string
	Kind    Kind
	GuildID string
	UserID  string

	AccountID int64
	Username  string
	Phrase    string

	mu        sync.Mutex
	stage     Stage
	allowed   []Action
	collected bool
	events    chan Event
	deadline  time.Time
}

func newSession(kind Kind, gid, uid string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Kind:    kind,
		GuildID: gid,
		UserID:  uid,
		stage:   StageIdle,
	}
}

// Stage - Get the step the session is in
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Deadline - Get when the current stage expires
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// arm replaces the waiting stage. Actions of the previous stage are rejected from here on.
// Must be called before the prompt for the stage is shown.
func (s *Session) arm(stage Stage, allowed ...Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = stage
	s.allowed = allowed
	s.collected = false
	s.events = make(chan Event, 1)
	s.deadline = time.Time{}
}

// deliver hands an action to the waiting stage. Only the first action of a stage is accepted.
func (s *Session) deliver(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsAction(s.allowed, ev.Action) {
		return ErrStalePrompt
	}
	if s.collected {
		return ErrAlreadyAnswered
	}
	s.collected = true
	// Buffered for exactly one event per stage
	s.events <- ev
	return nil
}

// wait blocks until the stage collects an action, the timeout passes or ctx is done.
// A timeout only wins if nothing was collected.
func (s *Session) wait(ctx context.Context, timeout time.Duration) (Event, error) {
	s.mu.Lock()
	events := s.events
	s.deadline = time.Now().Add(timeout)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-events:
		return ev, nil
	case <-timer.C:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.collected {
			return <-events, nil
		}
		s.allowed = nil
		return Event{}, ErrSessionExpired
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.collected {
			return <-events, nil
		}
		s.allowed = nil
		return Event{}, ctx.Err()
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = StageClosed
	s.allowed = nil
}

func containsAction(actions []Action, a Action) bool {
	for _, v := range actions {
		if v == a {
			return true
		}
	}
	return false
}

// Registry - Tracks running sessions. A user has at most one session at a time,
// across verify, unverify and update.
type Registry struct {
	metrics Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	users    map[string]*Session
}

// NewRegistry - Create an empty Registry. m may be nil
func NewRegistry(m Metrics) *Registry {
	if m == nil {
		m = nopMetrics{}
	}
	return &Registry{
		metrics:  m,
		sessions: make(map[string]*Session),
		users:    make(map[string]*Session),
	}
}

func (r *Registry) open(kind Kind, gid, uid string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[uid]; ok {
		return nil, ErrSessionActive
	}
	s := newSession(kind, gid, uid)
	r.sessions[s.ID] = s
	r.users[uid] = s
	r.metrics.SessionStarted()
	return s, nil
}

func (r *Registry) close(s *Session) {
	s.close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return
	}
	delete(r.sessions, s.ID)
	if r.users[s.UserID] == s {
		delete(r.users, s.UserID)
	}
	r.metrics.SessionEnded()
}

// Active - Check whether the user has a running session
func (r *Registry) Active(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[uid]
	return ok
}

// Session - Get a running session by id
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Deliver - Route a button press to the session it was shown for
func (r *Registry) Deliver(sessionID, uid string, ev Event) error {
	s, ok := r.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	if s.UserID != uid {
		return ErrNotYourSession
	}
	return s.deliver(ev)
}
