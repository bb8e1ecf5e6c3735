// Package clock provides the engine's single source of wall-clock time and
// identifier generation (C1 in the component table), so tests can swap in
// a deterministic clock instead of reaching for time.Now()/uuid.New()
// directly throughout the codebase.
package clock

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Clock produces timestamps and identifiers. The default implementation
// wraps time.Now and google/uuid; tests use NewFake for determinism.
type Clock interface {
	Now() time.Time
	NewID() string
}

// systemClock is the production Clock.
type systemClock struct{}

// System is the default, real-time Clock.
var System Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
func (systemClock) NewID() string  { return uuid.New().String() }

// Fake is a deterministic Clock for tests: Now() advances by a fixed step
// on every call and NewID() returns sequential, predictable IDs.
type Fake struct {
	t       time.Time
	step    time.Duration
	prefix  string
	counter int
}

// NewFake returns a Fake clock starting at start, advancing by step on
// every Now() call, and generating IDs as "<prefix>-<n>".
func NewFake(start time.Time, step time.Duration, prefix string) *Fake {
	return &Fake{t: start, step: step, prefix: prefix}
}

// Now returns the current fake time and advances it by step.
func (f *Fake) Now() time.Time {
	current := f.t
	f.t = f.t.Add(f.step)
	return current
}

// NewID returns the next sequential fake ID.
func (f *Fake) NewID() string {
	f.counter++
	prefix := f.prefix
	if prefix == "" {
		prefix = "id"
	}
	return prefix + "-" + strconv.Itoa(f.counter)
}
