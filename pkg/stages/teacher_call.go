package stages

import (
	"errors"
	"fmt"

	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// TeacherCall invokes the teacher model client with an assembled prompt.
// On circuit-open or budget-exhaustion it writes a typed Degradation
// instead of teacher.answer, so StudentCall (or Synthesize) can fall back
// without the plan failing.
type TeacherCall struct {
	Registry   *llm.Registry
	ClientName string
}

func NewTeacherCall(registry *llm.Registry, clientName string) *TeacherCall {
	return &TeacherCall{Registry: registry, ClientName: clientName}
}

func (s *TeacherCall) Name() string          { return "teacher_call" }
func (s *TeacherCall) InputKeys() []string    { return []string{"query.text", "retrieval.notes"} }
func (s *TeacherCall) OutputKeys() []string   { return []string{"teacher.answer", "teacher.citations"} }
func (s *TeacherCall) Cacheable() bool        { return false }
func (s *TeacherCall) Idempotent() bool       { return true }
func (s *TeacherCall) Capabilities() []stage.Capability {
	return []stage.Capability{stage.CapabilityNeedsTeacher}
}

func (s *TeacherCall) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	query, _ := view.Get("query.text")
	prompt := buildAnswerPrompt(view, toString(query))

	resp, err := s.Registry.Generate(rc.Context, s.ClientName, llm.Request{
		Prompt:    prompt,
		MaxTokens: 1024,
	}, rc.RemainingBudget.RemainingCostMicros)
	if err != nil {
		if errors.Is(err, llm.ErrCircuitOpen) || errors.Is(err, llm.ErrBudgetExceeded) {
			return stage.Output{
				Writes: map[string]any{
					"teacher.answer":    Degradation{Reason: err.Error()},
					"teacher.citations": []string{},
				},
			}, nil
		}
		return stage.Output{}, fmt.Errorf("teacher_call: %w", err)
	}

	return stage.Output{
		Writes: map[string]any{
			"teacher.answer":    resp.Text,
			"teacher.citations": extractCitations(view),
		},
		CostMicros: resp.CostMicros,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		Provider:   resp.ProviderID,
	}, nil
}

func buildAnswerPrompt(view *stage.Scratchpad, query string) string {
	prompt := "Answer the following query.\n\nQuery: " + query
	if notes, ok := view.Get("retrieval.notes"); ok {
		prompt += fmt.Sprintf("\n\nRelevant notes: %v", notes)
	}
	if playbook, ok := view.Get("context.playbook"); ok {
		prompt += fmt.Sprintf("\n\nPlaybook context:\n%v", playbook)
	}
	return prompt
}

func extractCitations(view *stage.Scratchpad) []string {
	notesRaw, ok := view.Get("retrieval.notes")
	if !ok {
		return []string{}
	}
	scored, ok := notesRaw.([]memory.Scored)
	if !ok {
		return []string{}
	}
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Note.ID)
	}
	return ids
}
