package stages

import (
	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// Synthesize composes the final answer from scratchpad keys in priority
// order: refined > teacher > student > retrieval-summary (spec.md §4.7).
// It is always the terminal stage of a plan and must never fail — a
// degraded or empty upstream produces a best-effort answer plus a
// provenance trail explaining which source was used.
type Synthesize struct {
	Deny *DenyFilter
}

func NewSynthesize(deny *DenyFilter) *Synthesize {
	if deny == nil {
		deny = NewDenyFilter(nil)
	}
	return &Synthesize{Deny: deny}
}

func (s *Synthesize) Name() string          { return "synthesize" }
func (s *Synthesize) InputKeys() []string    { return nil }
func (s *Synthesize) OutputKeys() []string   { return []string{"final.answer", "final.provenance"} }
func (s *Synthesize) Cacheable() bool        { return false }
func (s *Synthesize) Idempotent() bool       { return true }
func (s *Synthesize) Capabilities() []stage.Capability { return nil }

func (s *Synthesize) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	answer, source := s.pickAnswer(view)

	if reason, hit := s.Deny.Matches(answer); hit {
		rc.Logger.Warn("synthesize: answer matched a deny pattern, degrading to retrieval summary", "pattern", reason)
		answer, source = s.retrievalSummary(view), "retrieval-summary (deny-filtered)"
	}

	provenance := []string{source}
	if used, ok := view.Get("retrieval.used_variants"); ok {
		if b, ok := used.(bool); ok && b {
			provenance = append(provenance, "query-expansion-variants")
		}
	}

	return stage.Output{
		Writes: map[string]any{
			"final.answer":     answer,
			"final.provenance": provenance,
		},
	}, nil
}

// pickAnswer implements the documented priority: refined > teacher >
// student > retrieval-summary.
func (s *Synthesize) pickAnswer(view *stage.Scratchpad) (string, string) {
	if v, ok := view.Get("refine.final"); ok {
		if text, ok := v.(string); ok && text != "" {
			return text, "refine.final"
		}
	}
	if v, ok := view.Get("teacher.answer"); ok {
		if text, ok := v.(string); ok && text != "" {
			return text, "teacher.answer"
		}
	}
	if v, ok := view.Get("student.answer"); ok {
		if text, ok := v.(string); ok && text != "" {
			return text, "student.answer"
		}
	}
	return s.retrievalSummary(view), "retrieval-summary"
}

func (s *Synthesize) retrievalSummary(view *stage.Scratchpad) string {
	notesRaw, ok := view.Get("retrieval.notes")
	if !ok {
		return "No answer could be produced for this query."
	}
	scored, ok := notesRaw.([]memory.Scored)
	if !ok || len(scored) == 0 {
		return "No answer could be produced for this query."
	}
	summary := ""
	for i, r := range scored {
		if i > 0 {
			summary += "\n"
		}
		summary += r.Note.Text
	}
	return summary
}
