package stages

import (
	"github.com/cascadelabs/cascade/pkg/playbook"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// ContextAssemble is the supplemental stage (SPEC_FULL.md §4.7) that
// resolves a reference playbook for the query and attaches it to the
// scratchpad for TeacherCall/StudentCall/Refine to fold into their
// prompts. Resolution prefers a query-attached URL, then falls back to
// whatever playbook is pinned for DomainDetect's classification
// (config.PlaybookConfig.DomainDefaults), then the inline default. A fetch
// failure degrades to an empty context.playbook rather than failing the
// plan — playbook context is an enrichment, not a dependency.
type ContextAssemble struct {
	Service   *playbook.Service
	URLLookup func(view *stage.Scratchpad) string
}

func NewContextAssemble(service *playbook.Service, urlLookup func(*stage.Scratchpad) string) *ContextAssemble {
	if urlLookup == nil {
		urlLookup = func(*stage.Scratchpad) string { return "" }
	}
	return &ContextAssemble{Service: service, URLLookup: urlLookup}
}

// InputKeys is empty even though Run reads domain.label: the domain lookup
// is an enrichment (an absent label just falls through to the configured
// default), not a hard dependency the Router must fail planning over.
func (s *ContextAssemble) Name() string                     { return "context_assemble" }
func (s *ContextAssemble) InputKeys() []string               { return nil }
func (s *ContextAssemble) OutputKeys() []string              { return []string{"context.playbook"} }
func (s *ContextAssemble) Cacheable() bool                   { return true }
func (s *ContextAssemble) Idempotent() bool                  { return true }
func (s *ContextAssemble) Capabilities() []stage.Capability  { return nil }

func (s *ContextAssemble) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	domainLabel, _ := view.Get("domain.label")
	url := s.URLLookup(view)

	content, err := s.Service.Resolve(rc.Context, toString(domainLabel), url)
	if err != nil {
		rc.Logger.Warn("context_assemble: playbook fetch failed, degrading to empty context", "error", err)
		content = ""
	}

	return stage.Output{
		Writes: map[string]any{"context.playbook": content},
	}, nil
}
