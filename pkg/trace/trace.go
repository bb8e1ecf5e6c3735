// Package trace is the engine's trace/observability substrate (C2): an
// append-only, per-session log of StageEvents plus the session's scratchpad
// snapshot and totals, kept in memory and addressable by session ID.
package trace

import (
	"errors"
	"sync"
	"time"
)

// Phase is a StageEvent's point in a stage's lifecycle.
type Phase string

// Recognized phases, in the order a well-behaved stage passes through them.
const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseError Phase = "error"
	PhaseRetry Phase = "retry"
)

// TerminalState is a session's outcome at close.
type TerminalState string

// Recognized terminal states.
const (
	StateOK            TerminalState = "ok"
	StateFailed        TerminalState = "failed"
	StateAbortedBudget TerminalState = "aborted_budget"
	StateCancelled     TerminalState = "cancelled"
)

// StageEvent records one lifecycle transition of one stage invocation.
// Provider and Attempt are supplemental fields beyond the distilled data
// model: Provider names the model client (if any) that served the stage,
// mirroring the teacher's LLM-interaction provider column; Attempt is the
// 1-based retry attempt number.
type StageEvent struct {
	SessionID string
	Seq       uint64
	StageName string
	Phase     Phase
	StartedAt time.Time
	EndedAt   time.Time
	CostMicros int64
	TokensIn   int
	TokensOut  int
	CacheHit   bool
	ErrorKind  string
	Notes      string
	Provider   string
	Attempt    int
}

// Totals aggregates cost/time/tokens across a session's events.
type Totals struct {
	CostMicros int64
	WallMs     int64
	TokensIn   int
	TokensOut  int
	StageCount int
}

// Session is the full trace for one Pipeline.Execute call.
type Session struct {
	ID             string
	Events         []StageEvent
	TerminalState  TerminalState
	Totals         Totals
	ScratchpadKeys []string
}

// ErrSessionNotFound is returned by Store.Get for an unknown session ID.
var ErrSessionNotFound = errors.New("trace: session not found")

// Store is the process-wide trace substrate: an append log keyed by
// session ID, protected by a per-session sequence counter so events are
// totally ordered within a session (spec.md §5 ordering guarantees).
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	seqs     map[string]uint64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		seqs:     make(map[string]uint64),
	}
}

// StartSession registers a new, empty session under id. Calling it twice
// with the same id resets that session's event log.
func (s *Store) StartSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &Session{ID: id}
	s.seqs[id] = 0
}

// Append records event, assigning it the next monotonic sequence number
// for its session. The event's SessionID determines where it is filed,
// not the session's presence — a late event for an unstarted session
// lazily creates one.
func (s *Store) Append(event StageEvent) StageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[event.SessionID]
	if !ok {
		sess = &Session{ID: event.SessionID}
		s.sessions[event.SessionID] = sess
	}
	s.seqs[event.SessionID]++
	event.Seq = s.seqs[event.SessionID]
	sess.Events = append(sess.Events, event)

	switch event.Phase {
	case PhaseEnd, PhaseError:
		sess.Totals.StageCount++
		sess.Totals.CostMicros += event.CostMicros
		sess.Totals.TokensIn += event.TokensIn
		sess.Totals.TokensOut += event.TokensOut
		if ms := event.EndedAt.Sub(event.StartedAt).Milliseconds(); ms > sess.Totals.WallMs {
			sess.Totals.WallMs = ms
		}
	}
	return event
}

// Close marks a session's terminal state.
func (s *Store) Close(id string, state TerminalState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.TerminalState = state
	}
}

// Get returns a snapshot copy of a session's trace.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *sess
	clone.Events = append([]StageEvent(nil), sess.Events...)
	return &clone, nil
}
