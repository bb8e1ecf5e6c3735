package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_ProducesUUID(t *testing.T) {
	id := System.NewID()
	assert.Len(t, id, 36)
}

func TestFake_AdvancesDeterministically(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start, time.Second, "stage")

	first := f.Now()
	second := f.Now()
	assert.Equal(t, start, first)
	assert.Equal(t, start.Add(time.Second), second)

	assert.Equal(t, "stage-1", f.NewID())
	assert.Equal(t, "stage-2", f.NewID())
}
