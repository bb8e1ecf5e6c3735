// Package llm is the Model Client Registry (C5): named model clients with
// per-call rate limiting, circuit breaking, retries, and cost accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request is one call to a model client.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Response is a successful model client call result.
type Response struct {
	Text       string
	TokensIn   int
	TokensOut  int
	CostMicros int64
	LatencyMs  int64
	ProviderID string
}

// ErrorKind classifies a Client error for the registry's retry and
// degradation policy (spec.md §6 outbound adapter contract).
type ErrorKind string

// Recognized error kinds.
const (
	ErrorKindRetryable   ErrorKind = "retryable"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindCircuitOpen ErrorKind = "circuit_open"
	ErrorKindPolicy      ErrorKind = "policy"
	ErrorKindInvalid     ErrorKind = "invalid"
	ErrorKindTransport   ErrorKind = "transport"
)

// retryable reports whether a ClientError of this kind should be retried
// by the Registry (spec.md §4.3: "retryable error kinds only (transport,
// 5xx, rate-limit); never on policy/validation errors").
func (k ErrorKind) retryable() bool {
	switch k {
	case ErrorKindRetryable, ErrorKindRateLimited, ErrorKindTransport:
		return true
	default:
		return false
	}
}

// Retryable is the exported form of retryable, consulted by the Scheduler
// when deciding whether a failed Idempotent stage's underlying model error
// qualifies for a stage-level retry (spec.md §4.8).
func (k ErrorKind) Retryable() bool { return k.retryable() }

// ClientError wraps a downstream failure with its classification.
type ClientError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// Client is the outbound model-client adapter contract.
type Client interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Sentinel errors returned by Registry.Generate.
var (
	ErrClientNotFound  = errors.New("llm: client not found")
	ErrCircuitOpen     = errors.New("llm: circuit open")
	ErrBudgetExceeded  = errors.New("llm: budget exceeded")
)
