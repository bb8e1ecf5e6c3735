package llm

import (
	"context"
	"sync"
)

// StubClient is a deterministic, in-process Client for tests, grounded on
// the teacher's various *_test.go stub LLM clients. Responses queue in
// order; Generate pops the next one, or repeats the last one once the
// queue is drained.
type StubClient struct {
	name string

	mu        sync.Mutex
	responses []stubResult
	calls     []Request
}

type stubResult struct {
	resp Response
	err  error
}

// NewStubClient constructs a StubClient that returns resp on the first
// Generate, and on every later call too unless more results are queued.
func NewStubClient(name string, resp Response) *StubClient {
	return &StubClient{name: name, responses: []stubResult{{resp: resp}}}
}

// QueueResponse appends a response to return on a future Generate call.
func (c *StubClient) QueueResponse(resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, stubResult{resp: resp})
}

// QueueError appends an error to return on a future Generate call.
func (c *StubClient) QueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, stubResult{err: err})
}

// Name implements Client.
func (c *StubClient) Name() string { return c.name }

// Generate implements Client.
func (c *StubClient) Generate(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)

	if len(c.responses) == 0 {
		return Response{ProviderID: "stub:" + c.name}, nil
	}
	next := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return next.resp, next.err
}

// Calls returns every request this client has received, in order.
func (c *StubClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.calls...)
}
