// Package pipeline is the Pipeline Facade (C11): the single library
// entrypoint that wires Router, Scheduler, Cache, Memory Store, Model
// Client Registry, and the Stage Library into one Execute call per query.
// Grounded on cmd/tarsy/main.go's constructor-wiring style (one constructor
// per component, assembled once at startup) but exposed as a Go library
// entrypoint rather than an HTTP server, per the Non-goal dropping gin.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cascadelabs/cascade/pkg/cache"
	"github.com/cascadelabs/cascade/pkg/clock"
	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/difficulty"
	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/router"
	"github.com/cascadelabs/cascade/pkg/scheduler"
	"github.com/cascadelabs/cascade/pkg/stage"
	"github.com/cascadelabs/cascade/pkg/stages"
	"github.com/cascadelabs/cascade/pkg/trace"
)

// Query is one caller-submitted question to route, answer, and trace.
type Query struct {
	Text            string
	TenantID        string
	DomainHint      string
	AttachedContext string
	NeedsRefinement bool
	PlaybookURL     string
}

// maxQueryBytes is the accepted query size ceiling (spec.md §8 boundary:
// "Query at exact 32 KiB → accepted").
const maxQueryBytes = 32 * 1024

// ErrEmptyQuery and ErrQueryTooLarge are Input-class errors (spec.md §7):
// surfaced synchronously, before any session is created.
var (
	ErrEmptyQuery    = errors.New("pipeline: query text is empty")
	ErrQueryTooLarge = errors.New("pipeline: query exceeds maximum size")
)

// Result is the facade's uniform return value: the Scheduler never panics
// or returns a runtime error across this boundary (spec.md §7 "the facade
// always returns a Result").
type Result struct {
	SessionID     string
	Answer        string
	Provenance    []string
	TerminalState trace.TerminalState
	Totals        trace.Totals
	ErrorSummary  string
}

// Pipeline holds every shared, process-wide component (Cache, Memory
// Store, Model Client Registry, trace Store) plus the config they were
// built from. One Pipeline instance serves all tenants and sessions
// concurrently (spec.md §5).
type Pipeline struct {
	cfg       *config.Config
	registry  *stage.Registry
	sched     *scheduler.Scheduler
	traceStore *trace.Store
	llmReg    *llm.Registry
	memStore  memory.Store
	clock     clock.Clock
	logger    *slog.Logger
	knownDomains map[string]bool
}

// New constructs a Pipeline from a fully-resolved Config and its shared
// components. Callers build the Registry once via BuildRegistry and pass
// it here alongside the other singletons (spec.md §9: "Global mutable
// state... expressed as process-wide singletons with explicit Init(config)
// calls").
func New(cfg *config.Config, registry *stage.Registry, stageCache *cache.Cache[stage.Output], traceStore *trace.Store, llmReg *llm.Registry, memStore memory.Store, clk clock.Clock, logger *slog.Logger) *Pipeline {
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}
	sched := scheduler.New(registry, stageCache, traceStore, scheduler.Options{
		RetryMaxAttempts:  cfg.Scheduler.RetryMaxAttempts,
		RetryBaseBackoff:  time.Duration(cfg.Scheduler.RetryBaseBackoffMs) * time.Millisecond,
		RetryJitter:       time.Duration(cfg.Scheduler.RetryJitterMs) * time.Millisecond,
		StageGrace:        time.Duration(cfg.Scheduler.StageGraceMs) * time.Millisecond,
		DeterministicSeed: 0,
	})

	p := &Pipeline{
		cfg: cfg, registry: registry, sched: sched, traceStore: traceStore,
		llmReg: llmReg, memStore: memStore, clock: clk, logger: logger,
		knownDomains: defaultKnownDomains,
	}
	p.WireRecurse()
	return p
}

// defaultKnownDomains mirrors stages.DomainDetect's built-in keyword table
// (math/code/infra/support) so the Difficulty Estimator's domain-unknown
// feature and DomainDetect's classification stay in agreement by default.
var defaultKnownDomains = map[string]bool{"math": true, "code": true, "infra": true, "support": true, "general": true}

// Execute routes q through a freshly-built StagePlan, runs it to
// completion (or early termination), and returns the Result. Input and
// Planning errors (spec.md §7) return before any session is created; every
// other outcome — including Stage-fatal, Budget, and Cancellation — is
// folded into Result.TerminalState/ErrorSummary rather than returned as an
// error.
func (p *Pipeline) Execute(ctx context.Context, q Query, seed int64) (*Result, error) {
	return p.execute(ctx, q, seed, 0, true)
}

// GetTrace returns the full recorded trace for a prior session.
func (p *Pipeline) GetTrace(sessionID string) (*trace.Session, error) {
	return p.traceStore.Get(sessionID)
}

// ClientTotals exposes the running cost/token ledger for one named model
// client (supplemental cost-accounting feature, SPEC_FULL.md §Supplemental
// Features #1).
func (p *Pipeline) ClientTotals(clientName string) (llm.Totals, bool) {
	return p.llmReg.Totals(clientName)
}

// MemoryStore exposes the shared Memory Store for callers that want to
// pre-seed or inspect notes outside of a pipeline run (e.g. curation
// tooling marking a note helpful/harmful).
func (p *Pipeline) MemoryStore() memory.Store {
	return p.memStore
}

func (p *Pipeline) execute(ctx context.Context, q Query, seed int64, recursionDepth int, recursionEnabled bool) (*Result, error) {
	if len(q.Text) == 0 {
		return nil, ErrEmptyQuery
	}
	if len(q.Text) > maxQueryBytes {
		return nil, ErrQueryTooLarge
	}

	effectiveCfg := p.cfg
	if q.TenantID != "" {
		merged, err := config.ForTenant(p.cfg, q.TenantID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		effectiveCfg = merged
	}

	features := difficulty.ExtractFeatures(q.Text, q.DomainHint, p.knownDomains, q.AttachedContext)
	diff := difficulty.Estimate(features, difficulty.DefaultWeights())

	plan, err := router.Build(router.Input{
		Difficulty:       diff,
		DomainHint:       q.DomainHint,
		NeedsRefinement:  q.NeedsRefinement,
		RecursionEnabled: recursionEnabled && effectiveCfg.Router.RecursionEnabled,
		MaxStages:        effectiveCfg.Budget.MaxStages,
		Thresholds: router.Thresholds{
			Expand:    effectiveCfg.Router.ExpandThreshold,
			Teacher:   effectiveCfg.Router.TeacherThreshold,
			Decompose: effectiveCfg.Router.DecomposeThreshold,
			Context:   effectiveCfg.Router.ContextThreshold,
			Recurse:   effectiveCfg.Router.RecurseThreshold,
		},
		Gates: router.Gates{
			Expand: effectiveCfg.Features.Expand, Teacher: effectiveCfg.Features.Teacher,
			Decompose: effectiveCfg.Features.Decompose, Recurse: effectiveCfg.Features.Recurse,
			Refine: effectiveCfg.Features.Refine, Context: effectiveCfg.Features.Context,
			Memory: effectiveCfg.Features.Memory,
		},
		InitialKeys: []string{"query.text", "query.domain_hint", "query.tenant", "query.attached_context"},
	}, p.registry)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	sessionID := p.clock.NewID()
	p.traceStore.StartSession(sessionID)

	view := stage.NewScratchpad()
	_ = view.Set("query.text", q.Text)
	_ = view.Set("query.domain_hint", q.DomainHint)
	_ = view.Set("query.tenant", q.TenantID)
	_ = view.Set("query.attached_context", q.AttachedContext)

	sessionLogger := p.logger.With("session_id", sessionID)
	runCfg := map[string]any{
		"recursion.depth": recursionDepth,
		"playbook.url":    q.PlaybookURL,
		"query.tenant":    q.TenantID,
	}

	budget := stage.BudgetView{
		RemainingWallMs:       effectiveCfg.Budget.MaxWallMs,
		RemainingCostMicros:   effectiveCfg.Budget.MaxCostMicros,
		RemainingTeacherCalls: effectiveCfg.Budget.MaxTeacherCalls,
		RemainingStudentCalls: effectiveCfg.Budget.MaxStudentCalls,
	}

	deadline := time.Duration(effectiveCfg.Budget.MaxWallMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	state := p.sched.Run(runCtx, sessionID, plan, view, sessionLogger, budget, runCfg)
	p.traceStore.Close(sessionID, state)

	result := &Result{SessionID: sessionID, TerminalState: state}
	if answer, ok := view.Get("final.answer"); ok {
		if s, ok := answer.(string); ok {
			result.Answer = s
		}
	}
	if prov, ok := view.Get("final.provenance"); ok {
		if ss, ok := prov.([]string); ok {
			result.Provenance = ss
		}
	}
	if sess, err := p.traceStore.Get(sessionID); err == nil {
		result.Totals = sess.Totals
	}
	if state == trace.StateFailed {
		result.ErrorSummary = "one or more required stages failed"
	}
	return result, nil
}

// subPipeline is the SubPipeline callback wired into the Recurse stage: a
// recursive execute on the same Scheduler with Recurse disallowed at the
// sub-level. The sub-run takes its budget from the base config's budget
// defaults (no tenant), not from what remains of the parent session's
// budget, so it is not stricter than a top-level run; it runs under the
// Recurse stage's context.
func (p *Pipeline) subPipeline(rc stage.RunContext, step stages.Step, depth int) (string, error) {
	result, err := p.execute(rc.Context, Query{
		Text:     step.Description,
		TenantID: "",
	}, rc.DeterministicSeed, depth, false)
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

// RecurseInvoke exposes subPipeline for wiring into stages.NewRecurse at
// startup, since pkg/stages cannot import pkg/pipeline (it would close an
// import cycle the other way).
func (p *Pipeline) RecurseInvoke() stages.SubPipeline {
	return p.subPipeline
}
