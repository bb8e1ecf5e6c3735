package stages

import (
	"sync"

	"github.com/cascadelabs/cascade/pkg/stage"
)

// StepResult is one sub-step's outcome after Recurse invokes a restricted
// sub-pipeline for it.
type StepResult struct {
	Index  int
	Answer string
	Err    string
}

// SubPipeline executes a single decomposed step against a restricted
// sub-pipeline (same Scheduler, Recurse disallowed; its budget is not
// derived from the parent session's) and returns its answer. Recurse is
// constructed with this callback rather than importing pkg/pipeline
// directly, since pipeline imports stages — pipeline.New wires it in
// through Pipeline.WireRecurse.
type SubPipeline func(rc stage.RunContext, step Step, depth int) (string, error)

// Recurse fans a decomposed query out across bounded-concurrency
// sub-pipeline invocations, one per step, grounded on a reservation-then-
// register worker-pool pattern: a fixed-size semaphore reserves a slot
// before a goroutine is spawned, so the number of in-flight sub-pipelines
// never exceeds MaxConcurrency regardless of step count.
type Recurse struct {
	Invoke         SubPipeline
	MaxDepth       int // default 1, configurable <= 3 (spec.md §4.7)
	MaxConcurrency int
}

func NewRecurse(invoke SubPipeline, maxDepth, maxConcurrency int) *Recurse {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	if maxDepth > 3 {
		maxDepth = 3
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Recurse{Invoke: invoke, MaxDepth: maxDepth, MaxConcurrency: maxConcurrency}
}

func (s *Recurse) Name() string          { return "recurse" }
func (s *Recurse) InputKeys() []string    { return []string{"decompose.steps"} }
func (s *Recurse) OutputKeys() []string   { return []string{"recurse.step_results"} }
func (s *Recurse) Cacheable() bool        { return false }
func (s *Recurse) Idempotent() bool       { return false }
func (s *Recurse) Capabilities() []stage.Capability { return nil }

func (s *Recurse) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	depth := 0
	if d, ok := rc.Config["recursion.depth"]; ok {
		if di, ok := d.(int); ok {
			depth = di
		}
	}
	if depth >= s.MaxDepth {
		return stage.Output{
			Writes: map[string]any{"recurse.step_results": []StepResult{}},
		}, nil
	}

	stepsRaw, _ := view.Get("decompose.steps")
	steps, _ := stepsRaw.([]Step)

	results := make([]StepResult, len(steps))
	sem := make(chan struct{}, s.MaxConcurrency)
	var wg sync.WaitGroup

	for i, step := range steps {
		wg.Add(1)
		sem <- struct{}{} // reserve a slot before spawning
		go func(i int, step Step) {
			defer wg.Done()
			defer func() { <-sem }()

			answer, err := s.Invoke(rc, step, depth+1)
			if err != nil {
				results[i] = StepResult{Index: step.Index, Err: err.Error()}
				return
			}
			results[i] = StepResult{Index: step.Index, Answer: answer}
		}(i, step)
	}
	wg.Wait()

	return stage.Output{
		Writes: map[string]any{"recurse.step_results": results},
	}, nil
}
