package stages

import (
	"errors"
	"fmt"

	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// StudentCall mirrors TeacherCall against the student client. The Router
// attaches it immediately after every teacher_call (spec.md §4.7); Run
// no-ops without spending a call when teacher.answer already succeeded,
// and only falls through to the student model when teacher_call degraded.
type StudentCall struct {
	Registry   *llm.Registry
	ClientName string
}

func NewStudentCall(registry *llm.Registry, clientName string) *StudentCall {
	return &StudentCall{Registry: registry, ClientName: clientName}
}

func (s *StudentCall) Name() string          { return "student_call" }
func (s *StudentCall) InputKeys() []string    { return []string{"query.text", "retrieval.notes"} }
func (s *StudentCall) OutputKeys() []string   { return []string{"student.answer"} }
func (s *StudentCall) Cacheable() bool        { return false }
func (s *StudentCall) Idempotent() bool       { return true }
func (s *StudentCall) Capabilities() []stage.Capability {
	return []stage.Capability{stage.CapabilityNeedsStudent}
}

func (s *StudentCall) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	if teacherSucceeded(view) {
		return stage.Output{}, nil
	}

	query, _ := view.Get("query.text")
	prompt := buildAnswerPrompt(view, toString(query))

	resp, err := s.Registry.Generate(rc.Context, s.ClientName, llm.Request{
		Prompt:    prompt,
		MaxTokens: 1024,
	}, rc.RemainingBudget.RemainingCostMicros)
	if err != nil {
		if errors.Is(err, llm.ErrCircuitOpen) || errors.Is(err, llm.ErrBudgetExceeded) {
			return stage.Output{
				Writes: map[string]any{"student.answer": Degradation{Reason: err.Error()}},
			}, nil
		}
		return stage.Output{}, fmt.Errorf("student_call: %w", err)
	}

	return stage.Output{
		Writes:     map[string]any{"student.answer": resp.Text},
		CostMicros: resp.CostMicros,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		Provider:   resp.ProviderID,
	}, nil
}

// teacherSucceeded reports whether an earlier teacher_call already wrote a
// real answer (as opposed to a Degradation), meaning student_call has
// nothing to fall back for.
func teacherSucceeded(view *stage.Scratchpad) bool {
	v, ok := view.Get("teacher.answer")
	if !ok {
		return false
	}
	text, ok := v.(string)
	return ok && text != ""
}
