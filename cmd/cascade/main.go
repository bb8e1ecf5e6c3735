// cascade runs the Permutation Orchestration Engine as a one-shot CLI: it
// loads configuration, wires every shared component, executes a single
// query through the Pipeline Facade, and prints the resulting answer and
// trace summary. There is no HTTP/WebSocket surface here — the Pipeline
// Facade is a library entrypoint, per SPEC_FULL.md's Non-goal dropping the
// teacher's gin-based API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/cascadelabs/cascade/pkg/cache"
	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/llm"
	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/memory/pgstore"
	"github.com/cascadelabs/cascade/pkg/pipeline"
	"github.com/cascadelabs/cascade/pkg/playbook"
	"github.com/cascadelabs/cascade/pkg/stage"
	"github.com/cascadelabs/cascade/pkg/trace"
	"github.com/cascadelabs/cascade/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	query := flag.String("query", "", "Query text to run through the engine")
	tenant := flag.String("tenant", "", "Tenant ID for per-tenant config overrides")
	domainHint := flag.String("domain", "", "Optional domain hint")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env file at %s, continuing with existing environment", envPath)
	}

	log.Printf("starting %s", version.Full())
	log.Printf("config directory: %s", *configDir)

	if *query == "" {
		log.Fatal("missing required -query flag")
	}

	ctx := context.Background()

	cfg, err := config.LoadDir(*configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	llmReg := buildModelClientRegistry(cfg)

	memStore, closeMemStore, err := buildMemoryStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open memory store: %v", err)
	}
	defer closeMemStore()

	playbookSvc := playbook.NewService(&cfg.Playbook, os.Getenv("PLAYBOOK_GITHUB_TOKEN"))

	stageCache := cache.New[stage.Output](cfg.Cache.MaxEntries, time.Duration(cfg.Cache.DefaultTTLMs)*time.Millisecond, nil)
	traceStore := trace.NewStore()
	registry := pipeline.BuildRegistry(cfg, llmReg, memStore, playbookSvc)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	p := pipeline.New(cfg, registry, stageCache, traceStore, llmReg, memStore, nil, logger)

	result, err := p.Execute(ctx, pipeline.Query{
		Text:       *query,
		TenantID:   *tenant,
		DomainHint: *domainHint,
	}, 0)
	if err != nil {
		log.Fatalf("pipeline rejected query: %v", err)
	}

	fmt.Printf("session: %s\n", result.SessionID)
	fmt.Printf("terminal state: %s\n", result.TerminalState)
	fmt.Printf("answer: %s\n", result.Answer)
	fmt.Printf("provenance: %v\n", result.Provenance)
	fmt.Printf("totals: cost_micros=%d wall_ms=%d tokens_in=%d tokens_out=%d stages=%d\n",
		result.Totals.CostMicros, result.Totals.WallMs, result.Totals.TokensIn, result.Totals.TokensOut, result.Totals.StageCount)
	if result.ErrorSummary != "" {
		fmt.Printf("error_summary: %s\n", result.ErrorSummary)
	}
}

// buildModelClientRegistry wires one llm.Registry entry per
// config.ModelClients entry, dispatching on Provider the way the teacher's
// agent factory dispatched on LLM provider name (pkg/agent/factory.go).
func buildModelClientRegistry(cfg *config.Config) *llm.Registry {
	reg := llm.NewRegistry()
	for name, mc := range cfg.ModelClients {
		var client llm.Client
		apiKey := os.Getenv(mc.APIKeyEnv)
		switch mc.Provider {
		case config.ModelClientProviderAnthropic:
			client = llm.NewAnthropicClient(name, mc.Model, apiKey, mc.CostPerInputTokenMicros, mc.CostPerOutputTokenMicros)
		case config.ModelClientProviderOpenAI:
			client = llm.NewOpenAIClient(name, mc.Model, apiKey, mc.CostPerInputTokenMicros, mc.CostPerOutputTokenMicros)
		default:
			client = llm.NewStubClient(name, llm.Response{Text: "stub response"})
		}

		reg.Register(name, llm.ClientEntry{
			Client:                   client,
			RateLimitRPS:             mc.RateLimitRPS,
			RateLimitBurst:           mc.RateLimitBurst,
			BreakerMaxFails:          uint32(mc.BreakerMaxFails),
			BreakerOpenTimeout:       time.Duration(mc.BreakerOpenMs) * time.Millisecond,
			BreakerWindow:            time.Duration(mc.BreakerWindowMs) * time.Millisecond,
			RetryMaxAttempts:         mc.RetryMaxAttempts,
			RetryBaseBackoff:         time.Duration(cfg.Scheduler.RetryBaseBackoffMs) * time.Millisecond,
			RetryJitter:              time.Duration(cfg.Scheduler.RetryJitterMs) * time.Millisecond,
			CostPerInputTokenMicros:  mc.CostPerInputTokenMicros,
			CostPerOutputTokenMicros: mc.CostPerOutputTokenMicros,
			FallbackClient:           mc.FallbackClient,
		})
	}
	return reg
}

// buildMemoryStore selects the Memory Store adapter per
// config.MemoryConfig.Backend, returning a no-op close func for the
// in-memory backend and the real pgstore.Store.Close otherwise.
func buildMemoryStore(ctx context.Context, cfg *config.Config) (memory.Store, func(), error) {
	switch cfg.Memory.Backend {
	case config.MemoryBackendPostgres:
		if cfg.Memory.Postgres == nil {
			return nil, nil, fmt.Errorf("memory backend is postgres but no postgres config was supplied")
		}
		store, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.Memory.Postgres.DSN,
			MaxOpenConns:    cfg.Memory.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Memory.Postgres.MaxIdleConns,
			MigrationsTable: cfg.Memory.Postgres.MigrationsTable,
			MergeThreshold:  cfg.Memory.SimilarityMergeThreshold,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return memory.NewInMemoryStore(cfg.Memory.SimilarityMergeThreshold), func() {}, nil
	}
}
