package stages

import (
	"fmt"
	"strings"

	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// QueryExpand asks the student client for up to N paraphrases of the
// query. On any model failure it degrades to the original query only —
// expansion is an optimization, never a plan-fatal dependency.
type QueryExpand struct {
	Registry   *llm.Registry
	ClientName string
	N          int
}

func NewQueryExpand(registry *llm.Registry, clientName string, n int) *QueryExpand {
	if n <= 0 {
		n = 3
	}
	return &QueryExpand{Registry: registry, ClientName: clientName, N: n}
}

func (s *QueryExpand) Name() string          { return "query_expand" }
func (s *QueryExpand) InputKeys() []string    { return []string{"query.text"} }
func (s *QueryExpand) OutputKeys() []string   { return []string{"expand.variants"} }
func (s *QueryExpand) Cacheable() bool        { return true }
func (s *QueryExpand) Idempotent() bool       { return true }
func (s *QueryExpand) Capabilities() []stage.Capability {
	return []stage.Capability{stage.CapabilityNeedsStudent}
}

func (s *QueryExpand) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	raw, _ := view.Get("query.text")
	query := toString(raw)

	prompt := fmt.Sprintf("Rewrite the following query as %d distinct paraphrases, one per line, no numbering:\n\n%s", s.N, query)
	resp, err := s.Registry.Generate(rc.Context, s.ClientName, llm.Request{
		Prompt:    prompt,
		MaxTokens: 256,
	}, rc.RemainingBudget.RemainingCostMicros)
	if err != nil {
		rc.Logger.Warn("query_expand: student call failed, falling back to original query", "error", err)
		return stage.Output{
			Writes: map[string]any{"expand.variants": []string{query}},
		}, nil
	}

	variants := parseVariants(resp.Text, s.N)
	if len(variants) == 0 {
		variants = []string{query}
	}

	return stage.Output{
		Writes:     map[string]any{"expand.variants": variants},
		CostMicros: resp.CostMicros,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		Provider:   resp.ProviderID,
	}, nil
}

func parseVariants(text string, max int) []string {
	lines := strings.Split(text, "\n")
	variants := make([]string, 0, max)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		variants = append(variants, line)
		if len(variants) == max {
			break
		}
	}
	return variants
}
