package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStage struct{ name string }

func (s nopStage) Name() string            { return s.name }
func (s nopStage) InputKeys() []string      { return nil }
func (s nopStage) OutputKeys() []string     { return nil }
func (s nopStage) Cacheable() bool          { return false }
func (s nopStage) Idempotent() bool         { return false }
func (s nopStage) Capabilities() []Capability { return nil }
func (s nopStage) Run(rc RunContext, view *Scratchpad) (Output, error) {
	return Output{}, nil
}

func TestScratchpad_SetThenGet(t *testing.T) {
	sp := NewScratchpad()
	require.NoError(t, sp.Set("domain.label", "support"))

	v, ok := sp.Get("domain.label")
	require.True(t, ok)
	assert.Equal(t, "support", v)
}

func TestScratchpad_OverwriteIsError(t *testing.T) {
	sp := NewScratchpad()
	require.NoError(t, sp.Set("k", 1))
	err := sp.Set("k", 2)
	assert.ErrorIs(t, err, ErrKeyAlreadyWritten)
}

func TestScratchpad_SnapshotIsACopy(t *testing.T) {
	sp := NewScratchpad()
	require.NoError(t, sp.Set("k", 1))
	snap := sp.Snapshot()
	snap["k"] = 999

	v, _ := sp.Get("k")
	assert.Equal(t, 1, v)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(nopStage{name: "domain_detect"})

	s, err := r.Get("domain_detect")
	require.NoError(t, err)
	assert.Equal(t, "domain_detect", s.Name())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
