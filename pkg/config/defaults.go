package config

// Defaults returns a Config populated with the engine's built-in defaults.
// Load starts from this value: a top-level section the YAML file omits keeps
// its default here, while a section the file sets replaces the default
// section whole (see Load for how map sections are combined).
func Defaults() *Config {
	return &Config{
		Router: RouterConfig{
			ExpandThreshold:    0.3,
			TeacherThreshold:   0.5,
			DecomposeThreshold: 0.6,
			ContextThreshold:   0.7,
			RecurseThreshold:   0.6,
			RecursionEnabled:   true,
			RecursionDepthMax:  2,
		},
		Scheduler: SchedulerConfig{
			RetryMaxAttempts:   2,
			RetryBaseBackoffMs: 200,
			RetryJitterMs:      50,
			StageGraceMs:       500,
		},
		Cache: CacheConfig{
			MaxEntries:   10000,
			DefaultTTLMs: 5 * 60 * 1000,
		},
		Memory: MemoryConfig{
			SimilarityMergeThreshold: 0.8,
			Backend:                  MemoryBackendInMemory,
		},
		Budget: BudgetDefaults{
			MaxWallMs:       30000,
			MaxCostMicros:   50000,
			MaxTeacherCalls: 3,
			MaxStudentCalls: 6,
			MaxStages:       12,
		},
		Features: FeatureGates{
			Expand:    true,
			Teacher:   true,
			Decompose: true,
			Recurse:   true,
			Refine:    true,
			Context:   true,
			Memory:    true,
		},
		ModelClients: map[string]ModelClientConfig{},
		Playbook: PlaybookConfig{
			CacheTTLMs: 10 * 60 * 1000,
		},
		Synthesize: SynthesizeConfig{},
		Tenants:    map[string]TenantOverride{},
	}
}
