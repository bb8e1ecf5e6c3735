package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadelabs/cascade/pkg/stage"
)

func TestDomainDetect_MatchesKeywords(t *testing.T) {
	s := NewDomainDetect(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("query.text", "I need to deploy a new pod to my kubernetes cluster"))

	out, err := s.Run(stage.RunContext{}, sp)
	require.NoError(t, err)
	assert.Equal(t, "infra", out.Writes["domain.label"])
	assert.Greater(t, out.Writes["domain.confidence"], 0.0)
}

func TestDomainDetect_NoMatchIsGeneral(t *testing.T) {
	s := NewDomainDetect(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("query.text", "what time is it"))

	out, err := s.Run(stage.RunContext{}, sp)
	require.NoError(t, err)
	assert.Equal(t, "general", out.Writes["domain.label"])
}

func TestDomainDetect_NeverErrors(t *testing.T) {
	s := NewDomainDetect(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("query.text", ""))

	_, err := s.Run(stage.RunContext{}, sp)
	assert.NoError(t, err)
}
