// Package stage defines the uniform Stage contract (C6) and a Registry of
// concrete stages keyed by name. No inheritance hierarchy: stages are
// plain values registered at startup (spec.md §9).
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Capability tags a resource a stage needs. The Scheduler checks
// needs-teacher and needs-student against the remaining call budget before
// running a stage; the Router does not read capabilities, and needs-memory
// is not checked.
type Capability string

// Recognized capabilities.
const (
	CapabilityNeedsTeacher Capability = "needs-teacher"
	CapabilityNeedsStudent Capability = "needs-student"
	CapabilityNeedsMemory  Capability = "needs-memory"
)

// Scratchpad is the typed, namespaced key-value view a Stage reads from
// and writes to. Keys are namespaced, e.g. "retrieval.docs". Writes are
// append-only: Set rejects any key that is already present, whichever
// stage wrote it.
type Scratchpad struct {
	mu     *sync.RWMutex
	values map[string]any
}

// NewScratchpad constructs an empty Scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{mu: &sync.RWMutex{}, values: make(map[string]any)}
}

// Get reads key, reporting whether it is present.
func (s *Scratchpad) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// ErrKeyAlreadyWritten is returned by Set when key already exists —
// scratchpad writes are monotonic; overwriting is a stage logic error
// (spec.md §3 invariants).
var ErrKeyAlreadyWritten = errors.New("stage: scratchpad key already written")

// Set writes key, failing if it is already present.
func (s *Scratchpad) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; exists {
		return fmt.Errorf("%w: %s", ErrKeyAlreadyWritten, key)
	}
	s.values[key] = value
	return nil
}

// Snapshot returns a shallow copy of every key currently set, for Trace.
func (s *Scratchpad) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the set of currently-written keys.
func (s *Scratchpad) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}

// RunContext carries everything a Stage.Run needs beyond the scratchpad
// view: deadline/cancellation (via ctx), a session-scoped logger, the
// remaining budget, and per-stage config.
type RunContext struct {
	Context           context.Context
	SessionID         string
	Logger            *slog.Logger
	Config            map[string]any
	RemainingBudget   BudgetView
	DeterministicSeed int64
}

// BudgetView is the read-only budget surface a Stage may consult before
// doing expensive work (e.g. QueryExpand passing RemainingCostMicros to the
// model registry's pre-call budget check).
type BudgetView struct {
	RemainingWallMs       int64
	RemainingCostMicros   int64
	RemainingTeacherCalls int
	RemainingStudentCalls int
}

// Output is what a Stage.Run returns: the writes to merge into the
// scratchpad plus a per-stage cost/token summary.
type Output struct {
	Writes     map[string]any
	CostMicros int64
	TokensIn   int
	TokensOut  int
	Provider   string
	Notes      string
}

// Stage is the uniform contract every built-in and user stage implements.
type Stage interface {
	Name() string
	InputKeys() []string
	OutputKeys() []string
	Cacheable() bool
	Idempotent() bool
	Capabilities() []Capability
	Run(rc RunContext, view *Scratchpad) (Output, error)
}

// ErrNotFound is returned by Registry.Get for an unregistered stage name.
var ErrNotFound = errors.New("stage: not found")

// Registry is a name-keyed set of concrete Stage values.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds or replaces a stage under its own Name().
func (r *Registry) Register(s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[s.Name()] = s
}

// Get looks up a stage by name.
func (r *Registry) Get(name string) (Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// Names returns every registered stage name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stages))
	for name := range r.stages {
		out = append(out, name)
	}
	return out
}
