package stages

import (
	"log/slog"
	"regexp"
)

// compiledDenyPattern mirrors the teacher's CompiledPattern idiom
// (pkg/masking/pattern.go): patterns are compiled once, eagerly, and
// invalid ones are logged and skipped rather than failing startup.
type compiledDenyPattern struct {
	raw   string
	regex *regexp.Regexp
}

// DenyFilter reports whether synthesized answer text matches any of a
// configured set of regexes; it does not redact text, and Synthesize rejects
// a matching answer — repurposed from the teacher's secret-
// masking pattern groups into Synthesize's answer-safety gate
// (spec.md §9 Synthesize; SPEC_FULL.md supplemental features).
type DenyFilter struct {
	patterns []compiledDenyPattern
}

// NewDenyFilter compiles every pattern in patterns, logging and skipping
// any that fail to compile.
func NewDenyFilter(patterns []string) *DenyFilter {
	f := &DenyFilter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Error("synthesize: failed to compile deny pattern, skipping", "pattern", p, "error", err)
			continue
		}
		f.patterns = append(f.patterns, compiledDenyPattern{raw: p, regex: re})
	}
	return f
}

// Matches reports whether text trips any deny pattern, and which one.
func (f *DenyFilter) Matches(text string) (string, bool) {
	for _, p := range f.patterns {
		if p.regex.MatchString(text) {
			return p.raw, true
		}
	}
	return "", false
}
