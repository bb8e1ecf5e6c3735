package stages

import (
	"fmt"
	"strings"

	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// Step is one ordered sub-step produced by Decompose.
type Step struct {
	Index       int
	Description string
}

// Decompose asks the student client to break the query into ordered
// sub-steps. Idempotent: re-running against the same query.text produces
// the same step list (same prompt, deterministic client in tests).
type Decompose struct {
	Registry   *llm.Registry
	ClientName string
	MaxSteps   int
}

func NewDecompose(registry *llm.Registry, clientName string, maxSteps int) *Decompose {
	if maxSteps <= 0 {
		maxSteps = 6
	}
	return &Decompose{Registry: registry, ClientName: clientName, MaxSteps: maxSteps}
}

func (s *Decompose) Name() string          { return "decompose" }
func (s *Decompose) InputKeys() []string    { return []string{"query.text"} }
func (s *Decompose) OutputKeys() []string   { return []string{"decompose.steps"} }
func (s *Decompose) Cacheable() bool        { return true }
func (s *Decompose) Idempotent() bool       { return true }
func (s *Decompose) Capabilities() []stage.Capability {
	return []stage.Capability{stage.CapabilityNeedsStudent}
}

func (s *Decompose) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	query, _ := view.Get("query.text")
	prompt := fmt.Sprintf("Break the following query into at most %d ordered sub-steps, one per line:\n\n%s", s.MaxSteps, toString(query))

	resp, err := s.Registry.Generate(rc.Context, s.ClientName, llm.Request{
		Prompt:    prompt,
		MaxTokens: 512,
	}, rc.RemainingBudget.RemainingCostMicros)
	if err != nil {
		// Decompose's only consumer, Recurse, tolerates a single
		// pass-through step rather than failing the plan.
		return stage.Output{
			Writes: map[string]any{"decompose.steps": []Step{{Index: 0, Description: toString(query)}}},
		}, nil
	}

	steps := parseSteps(resp.Text, s.MaxSteps, toString(query))
	return stage.Output{
		Writes:     map[string]any{"decompose.steps": steps},
		CostMicros: resp.CostMicros,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		Provider:   resp.ProviderID,
	}, nil
}

func parseSteps(text string, max int, fallback string) []Step {
	lines := strings.Split(text, "\n")
	steps := make([]Step, 0, max)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, Step{Index: len(steps), Description: line})
		if len(steps) == max {
			break
		}
	}
	if len(steps) == 0 {
		steps = append(steps, Step{Index: 0, Description: fallback})
	}
	return steps
}
