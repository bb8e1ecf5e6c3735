package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerStub(r *Registry, name string, client *StubClient, opts ...func(*ClientEntry)) {
	entry := ClientEntry{
		Client:                   client,
		RateLimitRPS:             1000,
		RateLimitBurst:           1000,
		BreakerMaxFails:          3,
		BreakerOpenTimeout:       50 * time.Millisecond,
		BreakerWindow:            time.Second,
		RetryMaxAttempts:         3,
		RetryBaseBackoff:         time.Millisecond,
		RetryJitter:              time.Millisecond,
		CostPerOutputTokenMicros: 10,
	}
	for _, opt := range opts {
		opt(&entry)
	}
	r.Register(name, entry)
}

func TestRegistry_Generate_Success(t *testing.T) {
	r := NewRegistry()
	client := NewStubClient("teacher", Response{Text: "hi", TokensOut: 5})
	registerStub(r, "teacher", client)

	resp, err := r.Generate(context.Background(), "teacher", Request{MaxTokens: 100}, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)

	totals, ok := r.Totals("teacher")
	require.True(t, ok)
	assert.Equal(t, 1, totals.CallCount)
}

func TestRegistry_Generate_UnknownClient(t *testing.T) {
	r := NewRegistry()
	_, err := r.Generate(context.Background(), "ghost", Request{}, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestRegistry_Generate_BudgetExceeded(t *testing.T) {
	r := NewRegistry()
	client := NewStubClient("teacher", Response{Text: "hi"})
	registerStub(r, "teacher", client)

	_, err := r.Generate(context.Background(), "teacher", Request{MaxTokens: 10000}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Empty(t, client.Calls(), "a budget-refused call must never reach the downstream client")
}

func TestRegistry_Generate_RetriesRetryableThenSucceeds(t *testing.T) {
	r := NewRegistry()
	client := NewStubClient("teacher", Response{Text: "ok"})
	client.responses = []stubResult{
		{err: &ClientError{Kind: ErrorKindRetryable, Err: errors.New("transient")}},
		{resp: Response{Text: "ok"}},
	}
	registerStub(r, "teacher", client)

	resp, err := r.Generate(context.Background(), "teacher", Request{MaxTokens: 10}, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Len(t, client.Calls(), 2)
}

func TestRegistry_Generate_NeverRetriesPolicyErrors(t *testing.T) {
	r := NewRegistry()
	client := NewStubClient("teacher", Response{})
	client.responses = []stubResult{
		{err: &ClientError{Kind: ErrorKindPolicy, Err: errors.New("bad request")}},
		{resp: Response{Text: "should not be reached"}},
	}
	registerStub(r, "teacher", client)

	_, err := r.Generate(context.Background(), "teacher", Request{MaxTokens: 10}, 1_000_000)
	require.Error(t, err)
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorKindPolicy, ce.Kind)
	assert.Len(t, client.Calls(), 1, "policy errors must not be retried")
}

func TestRegistry_Generate_CircuitOpenFallsBackToDeclaredClient(t *testing.T) {
	r := NewRegistry()
	teacher := NewStubClient("teacher", Response{})
	teacher.responses = nil
	for i := 0; i < 5; i++ {
		teacher.QueueError(&ClientError{Kind: ErrorKindRetryable, Err: errors.New("down")})
	}
	student := NewStubClient("student", Response{Text: "fallback answer"})

	registerStub(r, "teacher", teacher, func(e *ClientEntry) {
		e.RetryMaxAttempts = 1
		e.BreakerMaxFails = 1
		e.FallbackClient = "student"
	})
	registerStub(r, "student", student)

	_, err := r.Generate(context.Background(), "teacher", Request{MaxTokens: 10}, 1_000_000)
	require.Error(t, err, "first call still fails since the breaker hasn't tripped yet")

	resp, err := r.Generate(context.Background(), "teacher", Request{MaxTokens: 10}, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp.Text)
}
