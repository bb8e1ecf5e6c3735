// Package scheduler implements the Scheduler (C10): it walks a
// router.StagePlan, invoking each Stage with the cache, budget, retry, and
// trace wrapping spec.md §4.8 requires, merging writes into a per-session
// Scratchpad. Grounded on the teacher's pkg/queue/worker.go (context
// deadline/cancellation/heartbeat shape, adapted here from "one DB-claimed
// session per worker" to "one in-memory plan per Execute call") and the
// retired pkg/agent/orchestrator's concurrent-fan-out-with-barrier
// bookkeeping, whose pattern is reused directly in runGroup below.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/cascadelabs/cascade/pkg/cache"
	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/router"
	"github.com/cascadelabs/cascade/pkg/stage"
	"github.com/cascadelabs/cascade/pkg/trace"
)

// Options configures one Scheduler instance, mirroring config.SchedulerConfig
// and config.BudgetDefaults without importing the config package directly
// (kept decoupled the same way router.Gates mirrors config.FeatureGates).
type Options struct {
	RetryMaxAttempts  int
	RetryBaseBackoff  time.Duration
	RetryJitter       time.Duration
	StageGrace        time.Duration
	DeterministicSeed int64
}

// Scheduler executes StagePlans against a shared Cache, trace Store, and
// stage Registry. One Scheduler is shared across all sessions; it holds no
// per-session state itself.
type Scheduler struct {
	registry *stage.Registry
	cache    *cache.Cache[stage.Output]
	trace    *trace.Store
	opts     Options
}

// New constructs a Scheduler wired to the shared Registry, Cache, and trace
// Store (spec.md §5: "Multiple sessions execute fully in parallel, sharing
// the Cache, Memory Store, and Model Client Registry").
func New(registry *stage.Registry, stageCache *cache.Cache[stage.Output], traceStore *trace.Store, opts Options) *Scheduler {
	if opts.RetryMaxAttempts < 1 {
		opts.RetryMaxAttempts = 1
	}
	return &Scheduler{registry: registry, cache: stageCache, trace: traceStore, opts: opts}
}

// Run walks plan in order, invoking each stage (or parallel_group) against
// view, merging writes under the scratchpad's own write-once guard, and
// returns the terminal state the caller should close the trace session
// with.
func (s *Scheduler) Run(ctx context.Context, sessionID string, plan router.StagePlan, view *stage.Scratchpad, logger *slog.Logger, budget stage.BudgetView, cfg map[string]any) trace.TerminalState {
	groups := groupByParallelTag(plan)

	for i, group := range groups {
		select {
		case <-ctx.Done():
			s.markCancelled(sessionID, group)
			s.runSynthesizeBestEffort(sessionID, groups[i:], view, logger, cfg)
			return trace.StateCancelled
		default:
		}

		if budgetExhausted(budget) {
			s.runSynthesizeBestEffort(sessionID, groups[i:], view, logger, cfg)
			return trace.StateAbortedBudget
		}

		groupStart := time.Now()
		var failed bool
		if len(group) == 1 {
			_, err := s.runStage(ctx, sessionID, group[0], view, logger, &budget, cfg)
			if err != nil {
				failed = s.handleStageError(group[0], err, logger)
			}
		} else {
			failed = s.runGroup(ctx, sessionID, group, view, logger, &budget, cfg)
		}
		budget.RemainingWallMs -= time.Since(groupStart).Milliseconds()

		if failed {
			return trace.StateFailed
		}
	}
	return trace.StateOK
}

// budgetExhausted reports whether any monotonically-consumed budget field
// has gone negative (spec.md §3: "Monotonically consumed; any field
// exceeded aborts the plan").
func budgetExhausted(budget stage.BudgetView) bool {
	return budget.RemainingCostMicros < 0 || budget.RemainingWallMs < 0 ||
		budget.RemainingTeacherCalls < 0 || budget.RemainingStudentCalls < 0
}

// runSynthesizeBestEffort runs the synthesize stage alone when the plan is
// being abandoned early (budget exhausted or cancelled), so the facade
// always gets a final answer (spec.md §7: "Synthesize runs on best-effort
// basis" on budget abort; §8 scenario 5: "Synthesize still emits a final
// answer... no orphaned start events").
func (s *Scheduler) runSynthesizeBestEffort(sessionID string, remaining [][]router.StageSpec, view *stage.Scratchpad, logger *slog.Logger, cfg map[string]any) {
	for _, group := range remaining {
		for _, spec := range group {
			if spec.Name != "synthesize" {
				continue
			}
			budget := stage.BudgetView{}
			_, _ = s.runStage(context.Background(), sessionID, spec, view, logger, &budget, cfg)
			return
		}
	}
}

// runGroup executes every member of a parallel_group concurrently behind an
// all-errors-collected barrier. runStage merges each member's writes into
// view as soon as that member finishes, so writes land in completion order
// whatever DeterministicSeed is; only the error handling and cost folding
// after the barrier walk the results in alphabetical-by-name order.
func (s *Scheduler) runGroup(ctx context.Context, sessionID string, group []router.StageSpec, view *stage.Scratchpad, logger *slog.Logger, budget *stage.BudgetView, cfg map[string]any) bool {
	type result struct {
		spec router.StageSpec
		out  stage.Output
		err  error
	}
	results := make([]result, len(group))
	localBudgets := make([]stage.BudgetView, len(group))
	for i := range localBudgets {
		localBudgets[i] = *budget
	}

	var wg sync.WaitGroup
	for i, spec := range group {
		wg.Add(1)
		go func(i int, spec router.StageSpec) {
			defer wg.Done()
			out, err := s.runStage(ctx, sessionID, spec, view, logger, &localBudgets[i], cfg)
			results[i] = result{spec: spec, out: out, err: err}
		}(i, spec)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].spec.Name < results[j].spec.Name })

	// Each member ran against its own copy of budget (all copied from the
	// same starting value), so teacher/student call spend made inside
	// runStage never touched the shared budget directly; sum every
	// member's independent spend and fold it back in here.
	startTeacher, startStudent := budget.RemainingTeacherCalls, budget.RemainingStudentCalls
	for _, lb := range localBudgets {
		budget.RemainingTeacherCalls -= startTeacher - lb.RemainingTeacherCalls
		budget.RemainingStudentCalls -= startStudent - lb.RemainingStudentCalls
	}

	var anyFatal bool
	for _, r := range results {
		if r.err != nil {
			if s.handleStageError(r.spec, r.err, logger) {
				anyFatal = true
			}
			continue
		}
		budget.RemainingCostMicros -= r.out.CostMicros
	}
	return anyFatal
}

// handleStageError classifies a stage's terminal error per spec.md §7:
// optional stages degrade silently, Synthesize failing terminates the
// session.
func (s *Scheduler) handleStageError(spec router.StageSpec, err error, logger *slog.Logger) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if spec.Name == "synthesize" {
		logger.Error("required stage failed", "stage", spec.Name, "error", err)
		return true
	}
	logger.Warn("optional stage degraded", "stage", spec.Name, "error", err)
	return false
}

// runStage wraps one stage invocation with the start/deadline/cache/budget/
// retry/end-or-error envelope spec.md §4.8 requires.
func (s *Scheduler) runStage(ctx context.Context, sessionID string, spec router.StageSpec, view *stage.Scratchpad, logger *slog.Logger, budget *stage.BudgetView, cfg map[string]any) (stage.Output, error) {
	st, err := s.registry.Get(spec.Name)
	if err != nil {
		return stage.Output{}, err
	}

	stageCtx := ctx
	var cancel context.CancelFunc
	if s.opts.StageGrace > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, s.opts.StageGrace)
		defer cancel()
	}

	rc := stage.RunContext{
		Context:           stageCtx,
		SessionID:         sessionID,
		Logger:            logger,
		Config:            cfg,
		RemainingBudget:   *budget,
		DeterministicSeed: s.opts.DeterministicSeed,
	}

	var key string
	if spec.Cacheable {
		key = cacheKey(spec, view)
		if cached, ok := s.cache.Get(key); ok {
			s.appendEvent(sessionID, spec.Name, trace.PhaseEnd, time.Now(), time.Now(), cached.Provider, "", 0)
			mergeWrites(view, cached.Writes, logger, spec.Name)
			budget.RemainingCostMicros -= cached.CostMicros
			return cached, nil
		}
	}

	needsTeacher := hasCapability(st.Capabilities(), stage.CapabilityNeedsTeacher)
	needsStudent := hasCapability(st.Capabilities(), stage.CapabilityNeedsStudent)
	if needsTeacher && budget.RemainingTeacherCalls <= 0 {
		return stage.Output{}, fmt.Errorf("%s: teacher call budget exhausted", spec.Name)
	}
	if needsStudent && budget.RemainingStudentCalls <= 0 {
		return stage.Output{}, fmt.Errorf("%s: student call budget exhausted", spec.Name)
	}

	start := time.Now()
	s.appendEvent(sessionID, spec.Name, trace.PhaseStart, start, time.Time{}, "", "", 0)

	out, err := s.invokeWithRetry(rc, st, view, spec, sessionID, logger)
	end := time.Now()

	// A teacher/student call was attempted (success, degradation, or hard
	// failure all spend the slot) unless the stage itself no-opped, which
	// it signals by returning a completely empty Output with no error —
	// e.g. StudentCall skipping its own call once teacher_call succeeded.
	if err != nil || len(out.Writes) > 0 || out.CostMicros > 0 || out.Provider != "" {
		if needsTeacher {
			budget.RemainingTeacherCalls--
		}
		if needsStudent {
			budget.RemainingStudentCalls--
		}
	}

	if err != nil {
		kind := errorKindOf(err)
		s.appendEvent(sessionID, spec.Name, trace.PhaseError, start, end, "", kind, 0)
		return out, err
	}

	s.appendEvent(sessionID, spec.Name, trace.PhaseEnd, start, end, out.Provider, "", 0)
	mergeWrites(view, out.Writes, logger, spec.Name)
	budget.RemainingCostMicros -= out.CostMicros

	if spec.Cacheable {
		s.cache.Set(key, out, 0)
	}
	return out, nil
}

// invokeWithRetry runs st.Run once, retrying up to Options.RetryMaxAttempts
// total attempts only when spec.Idempotent and the failure's classified
// llm.ErrorKind is retryable (spec.md §4.8/§8).
func (s *Scheduler) invokeWithRetry(rc stage.RunContext, st stage.Stage, view *stage.Scratchpad, spec router.StageSpec, sessionID string, logger *slog.Logger) (stage.Output, error) {
	maxAttempts := 1
	if spec.Idempotent {
		maxAttempts = s.opts.RetryMaxAttempts
	}

	var out stage.Output
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err = st.Run(rc, view)
		if err == nil {
			return out, nil
		}
		if attempt == maxAttempts || !isRetryable(err) {
			return out, err
		}
		s.appendEvent(sessionID, spec.Name, trace.PhaseRetry, time.Now(), time.Now(), "", errorKindOf(err), attempt)
		select {
		case <-rc.Context.Done():
			return out, rc.Context.Err()
		case <-time.After(s.retryBackoff(attempt)):
		}
	}
	return out, err
}

// retryBackoff mirrors pkg/llm/registry.go:retryBackoff's jitter formula,
// itself grounded on the teacher's pkg/queue/worker.go:pollInterval idiom.
func (s *Scheduler) retryBackoff(attempt int) time.Duration {
	base := s.opts.RetryBaseBackoff * time.Duration(attempt)
	jitter := s.opts.RetryJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func hasCapability(caps []stage.Capability, want stage.Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func isRetryable(err error) bool {
	var clientErr *llm.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Kind.Retryable()
	}
	return false
}

func errorKindOf(err error) string {
	var clientErr *llm.ClientError
	if errors.As(err, &clientErr) {
		return string(clientErr.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "internal"
}

func (s *Scheduler) appendEvent(sessionID, stageName string, phase trace.Phase, started, ended time.Time, provider, errorKind string, attempt int) {
	s.trace.Append(trace.StageEvent{
		SessionID: sessionID,
		StageName: stageName,
		Phase:     phase,
		StartedAt: started,
		EndedAt:   ended,
		Provider:  provider,
		ErrorKind: errorKind,
		Attempt:   attempt,
	})
}

func (s *Scheduler) markCancelled(sessionID string, remaining []router.StageSpec) {
	now := time.Now()
	for _, spec := range remaining {
		s.appendEvent(sessionID, spec.Name, trace.PhaseError, now, now, "", "cancelled", 0)
	}
}

// mergeWrites applies a stage's writes to the session scratchpad. A
// conflicting write (key already present from an earlier stage) is the
// fatal logic error spec.md §4.8 calls out; it is logged and dropped rather
// than panicking, since a parallel-group sibling's race to set the same
// key should not crash the whole session.
func mergeWrites(view *stage.Scratchpad, writes map[string]any, logger *slog.Logger, stageName string) {
	for k, v := range writes {
		if err := view.Set(k, v); err != nil {
			logger.Error("conflicting scratchpad write dropped", "stage", stageName, "key", k, "error", err)
		}
	}
}

// cacheKey builds a stage's cache key from its name, the current value of
// each declared input key, and the session's tenant and detected domain, so
// entries are not shared across tenants or domains. Stage config is not part
// of the key, and values are not normalized.
func cacheKey(spec router.StageSpec, view *stage.Scratchpad) string {
	key := spec.Name
	for _, k := range spec.InputKeys {
		v, _ := view.Get(k)
		key += fmt.Sprintf("|%s=%v", k, v)
	}
	for _, k := range []string{"query.tenant", "domain.label"} {
		v, _ := view.Get(k)
		key += fmt.Sprintf("|%s=%v", k, v)
	}
	return key
}

// groupByParallelTag splits plan into ordered runnable units: a StageSpec
// with no ParallelGroup is its own unit; adjacent specs sharing a non-empty
// ParallelGroup are grouped into one concurrent unit (spec.md §4.6 "stage
// order follows the table top-to-bottom; within a parallel_group tag,
// stages are marked for concurrent scheduling").
func groupByParallelTag(plan router.StagePlan) [][]router.StageSpec {
	var groups [][]router.StageSpec
	i := 0
	for i < len(plan) {
		if plan[i].ParallelGroup == "" {
			groups = append(groups, []router.StageSpec{plan[i]})
			i++
			continue
		}
		tag := plan[i].ParallelGroup
		j := i
		var group []router.StageSpec
		for j < len(plan) && plan[j].ParallelGroup == tag {
			group = append(group, plan[j])
			j++
		}
		groups = append(groups, group)
		i = j
	}
	return groups
}
