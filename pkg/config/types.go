// Package config loads, merges, and validates the Permutation Orchestration
// Engine's configuration: router thresholds, scheduler retry envelopes,
// cache/memory limits, model client wiring, and per-tenant overrides.
package config

// Config is the fully resolved, validated configuration for one engine
// instance. The engine does not modify it after Load or LoadDir returns it.
type Config struct {
	Router      RouterConfig                 `yaml:"router" validate:"required"`
	Scheduler   SchedulerConfig              `yaml:"scheduler" validate:"required"`
	Cache       CacheConfig                  `yaml:"cache" validate:"required"`
	Memory      MemoryConfig                 `yaml:"memory" validate:"required"`
	Budget      BudgetDefaults               `yaml:"budget_defaults" validate:"required"`
	Features    FeatureGates                 `yaml:"features"`
	ModelClients map[string]ModelClientConfig `yaml:"model_clients" validate:"required,min=1,dive"`
	Playbook    PlaybookConfig               `yaml:"playbook"`
	Synthesize  SynthesizeConfig             `yaml:"synthesize"`
	Tenants     map[string]TenantOverride    `yaml:"tenants,omitempty"`
}

// RouterConfig holds the difficulty thresholds that the Router uses to
// decide which optional stages join a plan (spec.md §4.6).
type RouterConfig struct {
	ExpandThreshold    float64 `yaml:"expand_threshold" validate:"gte=0,lte=1"`
	TeacherThreshold   float64 `yaml:"teacher_threshold" validate:"gte=0,lte=1"`
	DecomposeThreshold float64 `yaml:"decompose_threshold" validate:"gte=0,lte=1"`
	ContextThreshold   float64 `yaml:"context_threshold" validate:"gte=0,lte=1"`
	RecurseThreshold   float64 `yaml:"recurse_threshold" validate:"gte=0,lte=1"`
	RecursionEnabled   bool    `yaml:"recursion_enabled"`
	RecursionDepthMax  int     `yaml:"recursion_depth_max" validate:"gte=0,lte=3"`
}

// SchedulerConfig holds the Scheduler's retry envelope and grace periods
// (spec.md §6 "scheduler.*").
type SchedulerConfig struct {
	RetryMaxAttempts   int `yaml:"retry_max_attempts" validate:"gte=0"`
	RetryBaseBackoffMs int `yaml:"retry_base_backoff_ms" validate:"gte=0"`
	RetryJitterMs      int `yaml:"retry_jitter_ms" validate:"gte=0"`
	StageGraceMs       int `yaml:"stage_grace_ms" validate:"gte=0"`
}

// CacheConfig bounds the size and default TTL of the process-wide Cache.
type CacheConfig struct {
	MaxEntries     int `yaml:"max_entries" validate:"gt=0"`
	DefaultTTLMs   int `yaml:"default_ttl_ms" validate:"gt=0"`
}

// MemoryConfig configures the Memory Store's dedup threshold and backend.
type MemoryConfig struct {
	SimilarityMergeThreshold float64      `yaml:"similarity_merge_threshold" validate:"gte=0.5,lte=0.99"`
	Backend                  MemoryBackend `yaml:"backend" validate:"required"`
	Postgres                 *PostgresConfig `yaml:"postgres,omitempty"`
}

// MemoryBackend selects the Memory Store adapter.
type MemoryBackend string

// Recognized memory backends.
const (
	MemoryBackendInMemory MemoryBackend = "memory"
	MemoryBackendPostgres MemoryBackend = "postgres"
)

// IsValid reports whether b is a recognized backend.
func (b MemoryBackend) IsValid() bool {
	return b == MemoryBackendInMemory || b == MemoryBackendPostgres
}

// PostgresConfig configures the durable memory-store adapter.
type PostgresConfig struct {
	DSN             string `yaml:"dsn" validate:"required_if=Backend postgres"`
	MaxOpenConns    int    `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int    `yaml:"max_idle_conns" validate:"gte=0"`
	MigrationsTable string `yaml:"migrations_table,omitempty"`
}

// BudgetDefaults fill in any Budget field the caller omits (spec.md §6
// "budget.defaults.*").
type BudgetDefaults struct {
	MaxWallMs       int64 `yaml:"max_wall_ms" validate:"gt=0"`
	MaxCostMicros   int64 `yaml:"max_cost_micros" validate:"gte=0"`
	MaxTeacherCalls int   `yaml:"max_teacher_calls" validate:"gte=0"`
	MaxStudentCalls int   `yaml:"max_student_calls" validate:"gte=0"`
	MaxStages       int   `yaml:"max_stages" validate:"gte=0"`
}

// FeatureGates enables or disables optional stages system-wide
// (spec.md §6 "features.enable.*").
type FeatureGates struct {
	Expand    bool `yaml:"expand"`
	Teacher   bool `yaml:"teacher"`
	Decompose bool `yaml:"decompose"`
	Recurse   bool `yaml:"recurse"`
	Refine    bool `yaml:"refine"`
	Context   bool `yaml:"context"`
	Memory    bool `yaml:"memory"`
}

// ModelClientProvider selects which SDK backs a named model client.
type ModelClientProvider string

// Recognized model client providers.
const (
	ModelClientProviderAnthropic ModelClientProvider = "anthropic"
	ModelClientProviderOpenAI    ModelClientProvider = "openai"
	ModelClientProviderStub      ModelClientProvider = "stub"
)

// IsValid reports whether p is a recognized provider.
func (p ModelClientProvider) IsValid() bool {
	switch p {
	case ModelClientProviderAnthropic, ModelClientProviderOpenAI, ModelClientProviderStub:
		return true
	default:
		return false
	}
}

// ModelClientConfig configures one named entry in the Model Client Registry
// (spec.md §4.3).
type ModelClientConfig struct {
	Provider        ModelClientProvider `yaml:"provider" validate:"required"`
	Model           string              `yaml:"model" validate:"required"`
	APIKeyEnv       string              `yaml:"api_key_env,omitempty"`
	RateLimitRPS    float64             `yaml:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst  int                 `yaml:"rate_limit_burst" validate:"gt=0"`
	BreakerMaxFails int                 `yaml:"breaker_max_fails" validate:"gt=0"`
	BreakerOpenMs   int                 `yaml:"breaker_open_ms" validate:"gt=0"`
	BreakerWindowMs int                 `yaml:"breaker_window_ms" validate:"gt=0"`
	RetryMaxAttempts int                `yaml:"retry_max_attempts" validate:"gte=0"`
	CostPerInputTokenMicros  float64    `yaml:"cost_per_input_token_micros" validate:"gte=0"`
	CostPerOutputTokenMicros float64    `yaml:"cost_per_output_token_micros" validate:"gte=0"`
	FallbackClient  string              `yaml:"fallback_client,omitempty"`
}

// PlaybookConfig configures the ContextAssembly stage's playbook fetcher
// (generalized from the teacher's runbook resolution, SPEC_FULL.md §4.7).
// DomainDefaults lets an operator pin one playbook per domain.label (e.g.
// "billing" -> a billing runbook URL) so ContextAssembly can resolve
// context from DomainDetect's classification alone, without every query
// needing to attach its own URL.
type PlaybookConfig struct {
	RepoURL        string            `yaml:"repo_url,omitempty"`
	CacheTTLMs     int               `yaml:"cache_ttl_ms" validate:"gte=0"`
	AllowedDomains []string          `yaml:"allowed_domains,omitempty"`
	Default        string            `yaml:"default,omitempty"`
	DomainDefaults map[string]string `yaml:"domain_defaults,omitempty"`
}

// SynthesizeConfig configures Synthesize's deny-pattern answer filter
// (spec.md §9).
type SynthesizeConfig struct {
	DenyPatterns []string `yaml:"deny_patterns,omitempty"`
}

// TenantOverride holds per-tenant overrides merged onto the base Config with
// mergo.WithOverride (spec.md §6 config surface).
type TenantOverride struct {
	Router   *RouterConfig   `yaml:"router,omitempty"`
	Budget   *BudgetDefaults `yaml:"budget_defaults,omitempty"`
	Features *FeatureGates   `yaml:"features,omitempty"`
}
