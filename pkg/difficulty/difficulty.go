// Package difficulty implements the pure, deterministic Difficulty
// Estimator (C7): a weighted sum over query features followed by a
// logistic squash into [0,1].
package difficulty

import (
	"math"
	"regexp"
	"strings"
)

// Features is the observable feature vector the estimator scores.
type Features struct {
	TokenCount        int
	DistinctEntities  int
	MultiIntent       bool
	DomainUnknown     bool
	AttachedContextLen int
}

// Weights configures the estimator's linear term and squash steepness.
// Grounded on the teacher's config-driven, validate-tagged threshold style
// (pkg/config/chain.go).
type Weights struct {
	TokenCount         float64
	DistinctEntities   float64
	MultiIntent        float64
	DomainUnknown      float64
	AttachedContextLen float64
	Bias               float64
	Steepness          float64
}

// DefaultWeights returns a reasonable built-in weighting.
func DefaultWeights() Weights {
	return Weights{
		TokenCount:         0.01,
		DistinctEntities:   0.08,
		MultiIntent:        0.5,
		DomainUnknown:      0.4,
		AttachedContextLen: 0.002,
		Bias:               -1.5,
		Steepness:          1.0,
	}
}

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b`)
var multiIntentPattern = regexp.MustCompile(`\?.*\?| and | also |;`)

// ExtractFeatures computes Features from a raw query string and domain
// hint ("" or unrecognized means domain-unknown). Pure and deterministic.
func ExtractFeatures(query string, domainHint string, knownDomains map[string]bool, attachedContext string) Features {
	tokens := strings.Fields(query)
	entities := entityPattern.FindAllString(query, -1)
	distinct := make(map[string]bool, len(entities))
	for _, e := range entities {
		distinct[strings.ToLower(e)] = true
	}

	domainUnknown := domainHint == ""
	if !domainUnknown && knownDomains != nil {
		domainUnknown = !knownDomains[domainHint]
	}

	return Features{
		TokenCount:         len(tokens),
		DistinctEntities:   len(distinct),
		MultiIntent:        multiIntentPattern.MatchString(query),
		DomainUnknown:      domainUnknown,
		AttachedContextLen: len(attachedContext),
	}
}

// Estimate produces a difficulty score in [0,1] from features and weights.
// No rounding is applied. Ties are broken toward higher difficulty by the
// Router, whose threshold comparisons use >=, so a score equal to a
// threshold joins the higher tier.
func Estimate(f Features, w Weights) float64 {
	linear := w.Bias +
		w.TokenCount*float64(f.TokenCount) +
		w.DistinctEntities*float64(f.DistinctEntities) +
		w.AttachedContextLen*float64(f.AttachedContextLen)

	if f.MultiIntent {
		linear += w.MultiIntent
	}
	if f.DomainUnknown {
		linear += w.DomainUnknown
	}

	steepness := w.Steepness
	if steepness <= 0 {
		steepness = 1.0
	}
	score := 1.0 / (1.0 + math.Exp(-steepness*linear))
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
