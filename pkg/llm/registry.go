package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ClientEntry configures one named Registry entry.
type ClientEntry struct {
	Client                   Client
	RateLimitRPS             float64
	RateLimitBurst           int
	BreakerMaxFails          uint32
	BreakerOpenTimeout       time.Duration
	BreakerWindow            time.Duration
	RetryMaxAttempts         int
	RetryBaseBackoff         time.Duration
	RetryJitter              time.Duration
	CostPerInputTokenMicros  float64
	CostPerOutputTokenMicros float64
	FallbackClient           string
}

type registeredClient struct {
	entry   ClientEntry
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[Response]
}

// Registry holds named model clients shared across all sessions, each
// wrapped with its own rate limiter and circuit breaker (spec.md §5
// "Model Client rate limiter and circuit breaker are shared across all
// sessions per client name").
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*registeredClient
	totals  map[string]*Totals
}

// Totals is the running cost/token ledger for one named client
// (supplemental feature: cost accounting ledger, surfaced via
// Registry.Totals).
type Totals struct {
	CostMicros int64
	TokensIn   int
	TokensOut  int
	CallCount  int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*registeredClient),
		totals:  make(map[string]*Totals),
	}
}

// Register adds or replaces a named client entry.
func (r *Registry) Register(name string, entry ClientEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    entry.BreakerWindow,
		Timeout:     entry.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= entry.BreakerMaxFails
		},
	}
	r.clients[name] = &registeredClient{
		entry:   entry,
		limiter: rate.NewLimiter(rate.Limit(entry.RateLimitRPS), entry.RateLimitBurst),
		breaker: gobreaker.NewCircuitBreaker[Response](settings),
	}
	r.totals[name] = &Totals{}
}

// Totals returns a snapshot of the running ledger for name.
func (r *Registry) Totals(name string) (Totals, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.totals[name]
	if !ok {
		return Totals{}, false
	}
	return *t, true
}

// Generate calls the named client, enforcing its rate limit, circuit
// breaker, retry policy, and a synchronous budget pre-check against
// remainingBudgetMicros (spec.md §4.3: "a call that would exceed the
// remaining budget is refused synchronously with BudgetExceeded"). On
// circuit-open, the caller's declared fallback (if any) is attempted.
func (r *Registry) Generate(ctx context.Context, name string, req Request, remainingBudgetMicros int64) (Response, error) {
	r.mu.RLock()
	rc, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return Response{}, &ClientError{Kind: ErrorKindInvalid, Err: ErrClientNotFound}
	}

	if estimate := estimatedCostMicros(rc.entry, req); estimate > remainingBudgetMicros {
		return Response{}, &ClientError{Kind: ErrorKindPolicy, Err: ErrBudgetExceeded}
	}

	resp, err := r.callWithRetry(ctx, name, rc, req)
	if err == nil {
		r.recordTotals(name, resp)
		return resp, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		wrapped := &ClientError{Kind: ErrorKindCircuitOpen, Err: ErrCircuitOpen}
		if rc.entry.FallbackClient != "" {
			return r.Generate(ctx, rc.entry.FallbackClient, req, remainingBudgetMicros)
		}
		return Response{}, wrapped
	}
	return Response{}, err
}

func (r *Registry) callWithRetry(ctx context.Context, name string, rc *registeredClient, req Request) (Response, error) {
	var lastErr error
	maxAttempts := rc.entry.RetryMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := rc.limiter.Wait(ctx); err != nil {
			return Response{}, &ClientError{Kind: ErrorKindTransport, Err: err}
		}

		resp, err := rc.breaker.Execute(func() (Response, error) {
			return rc.entry.Client.Generate(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, err
		}

		var clientErr *ClientError
		if !errors.As(err, &clientErr) || !clientErr.Kind.retryable() || attempt == maxAttempts {
			return Response{}, err
		}

		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(retryBackoff(rc.entry, attempt)):
		}
	}
	return Response{}, lastErr
}

// retryBackoff grows exponentially (RetryBaseBackoff doubled for each
// attempt after the first) and mirrors the teacher's pkg/queue/worker.go
// pollInterval jitter idiom: base - jitter + random(0, 2*jitter).
func retryBackoff(entry ClientEntry, attempt int) time.Duration {
	base := entry.RetryBaseBackoff
	for i := 1; i < attempt; i++ {
		base *= 2
	}
	jitter := entry.RetryJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func estimatedCostMicros(entry ClientEntry, req Request) int64 {
	estimatedOutputTokens := req.MaxTokens
	return int64(float64(estimatedOutputTokens) * entry.CostPerOutputTokenMicros)
}

func (r *Registry) recordTotals(name string, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.totals[name]
	if !ok {
		t = &Totals{}
		r.totals[name] = t
	}
	t.CostMicros += resp.CostMicros
	t.TokensIn += resp.TokensIn
	t.TokensOut += resp.TokensOut
	t.CallCount++
}
