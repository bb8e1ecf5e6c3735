package stages

import (
	"fmt"

	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// ScoreFunc scores a candidate answer against the original query on
// relevance, groundedness, and completeness, combined into one [0,1]
// value. Config-driven so callers can swap in an embedding-based or
// model-graded scorer without changing Refine itself.
type ScoreFunc func(query, candidate string) float64

// Refine iteratively improves a candidate answer against ScoreFunc: a
// fixed number of iterations, early-stopping when the score delta drops
// below epsilon. Writes refine.final and the full refine.score_history[]
// so Trace/DESIGN-level debugging can see the trajectory.
type Refine struct {
	Registry   *llm.Registry
	ClientName string
	Score      ScoreFunc
	MaxIter    int
	Epsilon    float64
}

func NewRefine(registry *llm.Registry, clientName string, score ScoreFunc, maxIter int, epsilon float64) *Refine {
	if maxIter <= 0 {
		maxIter = 3
	}
	if epsilon <= 0 {
		epsilon = 0.02
	}
	return &Refine{Registry: registry, ClientName: clientName, Score: score, MaxIter: maxIter, Epsilon: epsilon}
}

func (s *Refine) Name() string          { return "refine" }
func (s *Refine) InputKeys() []string    { return []string{"query.text", "teacher.answer"} }
func (s *Refine) OutputKeys() []string   { return []string{"refine.final", "refine.score_history"} }
func (s *Refine) Cacheable() bool        { return false }
func (s *Refine) Idempotent() bool       { return false }
func (s *Refine) Capabilities() []stage.Capability {
	return []stage.Capability{stage.CapabilityNeedsTeacher}
}

func (s *Refine) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	query, _ := view.Get("query.text")
	candidate := candidateAnswer(view)

	scoreFn := s.Score
	if scoreFn == nil {
		scoreFn = heuristicScore
	}

	history := make([]float64, 0, s.MaxIter)
	prevScore := scoreFn(toString(query), candidate)
	history = append(history, prevScore)

	var totalCost int64
	var tokensIn, tokensOut int

	for i := 1; i < s.MaxIter; i++ {
		prompt := fmt.Sprintf(
			"Improve the following answer for relevance, groundedness, and completeness.\n\nQuery: %s\n\nCurrent answer: %s",
			toString(query), candidate,
		)
		resp, err := s.Registry.Generate(rc.Context, s.ClientName, llm.Request{
			Prompt:    prompt,
			MaxTokens: 1024,
		}, rc.RemainingBudget.RemainingCostMicros)
		if err != nil {
			break
		}
		totalCost += resp.CostMicros
		tokensIn += resp.TokensIn
		tokensOut += resp.TokensOut

		newScore := scoreFn(toString(query), resp.Text)
		delta := newScore - prevScore
		history = append(history, newScore)

		if newScore > prevScore {
			candidate = resp.Text
			prevScore = newScore
		}
		if delta < s.Epsilon {
			break
		}
	}

	return stage.Output{
		Writes: map[string]any{
			"refine.final":         candidate,
			"refine.score_history": history,
		},
		CostMicros: totalCost,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
	}, nil
}

func candidateAnswer(view *stage.Scratchpad) string {
	if v, ok := view.Get("teacher.answer"); ok {
		if text, ok := v.(string); ok {
			return text
		}
	}
	if v, ok := view.Get("student.answer"); ok {
		if text, ok := v.(string); ok {
			return text
		}
	}
	return ""
}

// heuristicScore is the default ScoreFunc when no model-graded scorer is
// configured: rewards answers that mention query terms and penalizes
// empty/degraded candidates.
func heuristicScore(query, candidate string) float64 {
	if candidate == "" {
		return 0
	}
	overlap := 0
	for _, tok := range uniqueTokens(query) {
		if containsToken(candidate, tok) {
			overlap++
		}
	}
	total := len(uniqueTokens(query))
	if total == 0 {
		return 0.5
	}
	score := float64(overlap) / float64(total)
	if score > 1 {
		score = 1
	}
	return score
}
