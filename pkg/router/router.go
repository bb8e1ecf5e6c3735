// Package router implements the Router (C8): it maps a query's difficulty,
// domain hint, and budget onto an ordered StagePlan, grounded directly on
// the teacher's pkg/config/chain.go ChainConfig/StageConfig shape — a
// StagePlan is a resolved chain.
package router

import (
	"fmt"
	"sort"

	"github.com/cascadelabs/cascade/pkg/stage"
)

// StageSpec names one stage invocation within a plan: its config map, the
// scratchpad keys it reads/writes, whether it is cacheable/idempotent, and
// an optional parallel_group tag (spec.md §3 StagePlan).
type StageSpec struct {
	Name         string
	Config       map[string]any
	InputKeys    []string
	OutputKeys   []string
	Cacheable    bool
	Idempotent   bool
	ParallelGroup string
	Threshold    float64 // the difficulty threshold that justified inclusion; 0 for always-included/terminal stages
}

// StagePlan is an ordered sequence of StageSpecs.
type StagePlan []StageSpec

// Thresholds is the router.thresholds.* configuration surface
// (spec.md §6).
type Thresholds struct {
	Expand    float64
	Teacher   float64
	Decompose float64
	Context   float64
	Recurse   float64
}

// Gates mirrors config.FeatureGates without importing the config package,
// keeping router decoupled from the full Config type.
type Gates struct {
	Expand, Teacher, Decompose, Recurse, Refine, Context, Memory bool
}

// Input is everything the Router needs to build a plan.
type Input struct {
	Difficulty        float64
	DomainHint        string
	NeedsRefinement   bool
	RecursionEnabled  bool
	MaxStages         int
	Thresholds        Thresholds
	Gates             Gates
	// InitialKeys are the scratchpad keys present before any stage runs
	// (e.g. "query.text", "query.domain_hint"), satisfying InputKeys
	// declarations that don't depend on an earlier stage's output.
	InitialKeys []string
}

// ErrPlanningFailed wraps an unsatisfied InputKeys dependency, a planning
// error surfaced from Execute before any stage runs (spec.md §7).
type ErrPlanningFailed struct {
	Stage   string
	Missing string
}

func (e *ErrPlanningFailed) Error() string {
	return fmt.Sprintf("router: stage %q requires input %q which no earlier stage produces", e.Stage, e.Missing)
}

// candidate is a policy-table row before stage metadata is resolved.
type candidate struct {
	name          string
	threshold     float64
	parallelGroup string
	include       bool
}

// Build produces a StagePlan per spec.md §4.6's policy table. registry
// supplies each stage's static InputKeys/OutputKeys/Cacheable/Idempotent.
func Build(in Input, registry *stage.Registry) (StagePlan, error) {
	candidates := []candidate{
		{name: "domain_detect", threshold: 0, parallelGroup: "gather", include: true},
		{name: "retrieve", threshold: 0, parallelGroup: "gather", include: in.Gates.Memory},
		{name: "query_expand", threshold: in.Thresholds.Expand, parallelGroup: "gather", include: in.Gates.Expand && in.Difficulty >= in.Thresholds.Expand},
		{name: "teacher_call", threshold: in.Thresholds.Teacher, include: in.Gates.Teacher && in.Difficulty >= in.Thresholds.Teacher},
		// student_call rides along as teacher_call's Router-attached fallback
		// (spec.md §4.7): it no-ops once teacher.answer already succeeded and
		// only spends a real call when teacher_call degraded.
		{name: "student_call", threshold: in.Thresholds.Teacher, include: in.Gates.Teacher && in.Difficulty >= in.Thresholds.Teacher},
		{name: "decompose", threshold: in.Thresholds.Decompose, include: in.Gates.Decompose && in.Difficulty >= in.Thresholds.Decompose},
		{name: "recurse", threshold: in.Thresholds.Recurse, include: in.Gates.Recurse && in.RecursionEnabled && in.Difficulty >= in.Thresholds.Recurse},
		{name: "context_assemble", threshold: in.Thresholds.Context, include: in.Gates.Context && in.Difficulty >= in.Thresholds.Context},
		{name: "refine", threshold: 0.999, include: in.Gates.Refine && in.NeedsRefinement},
	}

	var included []candidate
	for _, c := range candidates {
		if c.include {
			included = append(included, c)
		}
	}

	// Budget trim: drop the lowest-threshold candidates first, keeping at
	// most MaxStages non-terminal entries. Synthesize is terminal and
	// always runs; it is not subject to this cap.
	if in.MaxStages >= 0 && len(included) > in.MaxStages {
		sort.SliceStable(included, func(i, j int) bool { return included[i].threshold < included[j].threshold })
		drop := len(included) - in.MaxStages
		included = included[drop:]
		sort.SliceStable(included, func(i, j int) bool {
			return policyIndex(candidates, included[i].name) < policyIndex(candidates, included[j].name)
		})
	}

	plan := make(StagePlan, 0, len(included)+1)
	written := map[string]bool{}
	for _, key := range in.InitialKeys {
		written[key] = true
	}
	for _, c := range included {
		spec, err := resolveSpec(registry, c)
		if err != nil {
			return nil, err
		}
		for _, key := range spec.InputKeys {
			if !written[key] {
				return nil, &ErrPlanningFailed{Stage: spec.Name, Missing: key}
			}
		}
		for _, key := range spec.OutputKeys {
			written[key] = true
		}
		plan = append(plan, spec)
	}

	synth, err := resolveSpec(registry, candidate{name: "synthesize"})
	if err != nil {
		return nil, err
	}
	plan = append(plan, synth)
	return plan, nil
}

func policyIndex(candidates []candidate, name string) int {
	for i, c := range candidates {
		if c.name == name {
			return i
		}
	}
	return len(candidates)
}

func resolveSpec(registry *stage.Registry, c candidate) (StageSpec, error) {
	s, err := registry.Get(c.name)
	if err != nil {
		return StageSpec{}, fmt.Errorf("router: %w", err)
	}
	return StageSpec{
		Name:          s.Name(),
		InputKeys:     s.InputKeys(),
		OutputKeys:    s.OutputKeys(),
		Cacheable:     s.Cacheable(),
		Idempotent:    s.Idempotent(),
		ParallelGroup: c.parallelGroup,
		Threshold:     c.threshold,
	}, nil
}
