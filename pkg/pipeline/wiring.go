package pipeline

import (
	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/playbook"
	"github.com/cascadelabs/cascade/pkg/stage"
	"github.com/cascadelabs/cascade/pkg/stages"
)

// BuildRegistry registers every built-in stage named in the Router's
// policy table (spec.md §4.6) under its declared name, wiring each one to
// the shared Model Client Registry / Memory Store / Playbook Service. The
// "recurse" entry is registered with a no-op sub-pipeline invoker; New
// replaces it with a real callback bound to the constructed Pipeline,
// since Recurse's callback closes back over Pipeline.Execute and pkg/stages
// cannot import pkg/pipeline without an import cycle.
func BuildRegistry(cfg *config.Config, llmReg *llm.Registry, memStore memory.Store, playbookSvc *playbook.Service) *stage.Registry {
	registry := stage.NewRegistry()

	registry.Register(stages.NewDomainDetect(nil))
	registry.Register(stages.NewRetrieve(memStore, defaultTopK, func(rc stage.RunContext) string {
		tenant, _ := rc.Config["query.tenant"].(string)
		return tenant
	}))
	registry.Register(stages.NewQueryExpand(llmReg, studentClientName(cfg), defaultExpandN))
	registry.Register(stages.NewTeacherCall(llmReg, teacherClientName(cfg)))
	registry.Register(stages.NewStudentCall(llmReg, studentClientName(cfg)))
	registry.Register(stages.NewDecompose(llmReg, studentClientName(cfg), defaultMaxSteps))
	registry.Register(stages.NewRecurse(noopSubPipeline, cfg.Router.RecursionDepthMax, defaultRecurseConcurrency))
	registry.Register(stages.NewContextAssemble(playbookSvc, func(view *stage.Scratchpad) string {
		url, _ := view.Get("query.attached_context")
		if s, ok := url.(string); ok {
			return s
		}
		return ""
	}))
	registry.Register(stages.NewRefine(llmReg, teacherClientName(cfg), nil, defaultRefineMaxIter, defaultRefineEpsilon))
	registry.Register(stages.NewSynthesize(stages.NewDenyFilter(cfg.Synthesize.DenyPatterns)))

	return registry
}

const (
	defaultTopK               = 5
	defaultExpandN            = 3
	defaultMaxSteps           = 6
	defaultRecurseConcurrency = 4
	defaultRefineMaxIter      = 3
	defaultRefineEpsilon      = 0.02
)

// teacherClientName and studentClientName return "teacher"/"student" when a
// model client of that name is configured; otherwise any one configured
// client (map iteration order, so not fixed when there are several), or the
// conventional name when none is configured. A richer
// per-tenant client selection lives in config.ModelClients, but the Stage
// Library only needs one name per role since stages read RunContext.Config
// for anything more dynamic.
func teacherClientName(cfg *config.Config) string {
	if _, ok := cfg.ModelClients["teacher"]; ok {
		return "teacher"
	}
	for name := range cfg.ModelClients {
		return name
	}
	return "teacher"
}

func studentClientName(cfg *config.Config) string {
	if _, ok := cfg.ModelClients["student"]; ok {
		return "student"
	}
	for name := range cfg.ModelClients {
		return name
	}
	return "student"
}

func noopSubPipeline(rc stage.RunContext, step stages.Step, depth int) (string, error) {
	return step.Description, nil
}

// WireRecurse replaces the registry's placeholder Recurse invoker with one
// bound to this Pipeline's restricted Execute, completing the wiring New
// could not do before the Pipeline existed.
func (p *Pipeline) WireRecurse() {
	p.registry.Register(stages.NewRecurse(p.RecurseInvoke(), p.cfg.Router.RecursionDepthMax, defaultRecurseConcurrency))
}
