// Package stages holds the built-in Stage Library (C9): concrete, named
// implementations of the stage.Stage contract, grounded on the teacher's
// per-concern agent files — each generalized from a single fixed agent
// role into a reusable, config-driven stage.
package stages

import (
	"strings"

	"github.com/cascadelabs/cascade/pkg/stage"
)

// DomainDetect classifies a query into a coarse domain label. Pure,
// errors never: low confidence degrades to "general" rather than failing.
type DomainDetect struct {
	// Domains maps a label to the keywords that count as evidence for it.
	// Callers may supply their own table through NewDomainDetect; no config
	// key sets it, and BuildRegistry uses the built-in table.
	Domains map[string][]string
}

// NewDomainDetect returns a DomainDetect seeded with a small built-in
// keyword table; callers may pass their own via Domains.
func NewDomainDetect(domains map[string][]string) *DomainDetect {
	if domains == nil {
		domains = defaultDomainKeywords
	}
	return &DomainDetect{Domains: domains}
}

var defaultDomainKeywords = map[string][]string{
	"math":    {"equation", "theorem", "integral", "algebra", "calculus", "proof"},
	"code":    {"function", "compile", "stack trace", "bug", "repository", "package"},
	"infra":   {"kubernetes", "cluster", "deploy", "container", "pod", "network"},
	"support": {"refund", "invoice", "account", "subscription", "ticket"},
}

func (s *DomainDetect) Name() string          { return "domain_detect" }
func (s *DomainDetect) InputKeys() []string    { return []string{"query.text"} }
func (s *DomainDetect) OutputKeys() []string   { return []string{"domain.label", "domain.confidence"} }
func (s *DomainDetect) Cacheable() bool        { return true }
func (s *DomainDetect) Idempotent() bool       { return true }
func (s *DomainDetect) Capabilities() []stage.Capability { return nil }

func (s *DomainDetect) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	raw, _ := view.Get("query.text")
	text := strings.ToLower(toString(raw))

	bestLabel := "general"
	bestHits := 0
	for label, keywords := range s.Domains {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits, bestLabel = hits, label
		}
	}

	confidence := 0.0
	if bestHits > 0 {
		confidence = float64(bestHits) / float64(len(s.Domains[bestLabel]))
		if confidence > 1 {
			confidence = 1
		}
	}
	if confidence < 0.2 {
		bestLabel = "general"
	}

	return stage.Output{
		Writes: map[string]any{
			"domain.label":      bestLabel,
			"domain.confidence": confidence,
		},
	}, nil
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
