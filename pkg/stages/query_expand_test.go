package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/stage"
)

func newTestRegistry(t *testing.T, clientName string, stub *llm.StubClient) *llm.Registry {
	t.Helper()
	reg := llm.NewRegistry()
	reg.Register(clientName, llm.ClientEntry{
		Client:             stub,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		BreakerMaxFails:    100,
		BreakerOpenTimeout: 0,
		RetryMaxAttempts:   1,
	})
	return reg
}

func TestQueryExpand_ParsesVariants(t *testing.T) {
	stub := llm.NewStubClient("student", llm.Response{Text: "variant one\nvariant two\n"})
	reg := newTestRegistry(t, "student", stub)

	s := NewQueryExpand(reg, "student", 3)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("query.text", "original query"))

	out, err := s.Run(testRunContext(), sp)
	require.NoError(t, err)
	assert.Equal(t, []string{"variant one", "variant two"}, out.Writes["expand.variants"])
}

func TestQueryExpand_FallsBackToOriginalOnFailure(t *testing.T) {
	stub := llm.NewStubClient("student", llm.Response{})
	reg := newTestRegistry(t, "student", stub)

	// Registry.Generate's synchronous budget pre-check rejects the call
	// before it ever reaches the stub — exercising the same
	// fall-back-to-original path QueryExpand takes on any model failure.
	rc := testRunContext()
	rc.RemainingBudget.RemainingCostMicros = 0

	s := NewQueryExpand(reg, "student", 3)
	s.Registry.Register("student", llm.ClientEntry{
		Client: stub, RateLimitRPS: 1000, RateLimitBurst: 1000,
		BreakerMaxFails: 100, RetryMaxAttempts: 1, CostPerOutputTokenMicros: 1,
	})

	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("query.text", "original query"))

	out, err := s.Run(rc, sp)
	require.NoError(t, err)
	assert.Equal(t, []string{"original query"}, out.Writes["expand.variants"])
}
