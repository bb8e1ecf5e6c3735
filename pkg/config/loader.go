package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config but every section is a pointer so Load can
// tell an omitted section apart from an explicit zero value.
type fileConfig struct {
	Router       *RouterConfig                `yaml:"router"`
	Scheduler    *SchedulerConfig             `yaml:"scheduler"`
	Cache        *CacheConfig                 `yaml:"cache"`
	Memory       *MemoryConfig                `yaml:"memory"`
	Budget       *BudgetDefaults              `yaml:"budget_defaults"`
	Features     *FeatureGates                `yaml:"features"`
	ModelClients map[string]ModelClientConfig `yaml:"model_clients"`
	Playbook     *PlaybookConfig              `yaml:"playbook"`
	Synthesize   *SynthesizeConfig            `yaml:"synthesize"`
	Tenants      map[string]TenantOverride    `yaml:"tenants"`
}

// Load reads the built-in defaults, then overlays the YAML file at path
// (with ${VAR}/${VAR:-default} environment expansion applied first), then
// validates the result. Map sections (model_clients, tenants) are merged
// key-by-key; struct sections present in the file fully replace the
// default section.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, NewLoadError(path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(ExpandEnv(raw), &fc); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := Defaults()
	if fc.Router != nil {
		cfg.Router = *fc.Router
	}
	if fc.Scheduler != nil {
		cfg.Scheduler = *fc.Scheduler
	}
	if fc.Cache != nil {
		cfg.Cache = *fc.Cache
	}
	if fc.Memory != nil {
		cfg.Memory = *fc.Memory
	}
	if fc.Budget != nil {
		cfg.Budget = *fc.Budget
	}
	if fc.Features != nil {
		cfg.Features = *fc.Features
	}
	if fc.Playbook != nil {
		cfg.Playbook = *fc.Playbook
	}
	if fc.Synthesize != nil {
		cfg.Synthesize = *fc.Synthesize
	}
	cfg.ModelClients = mergeModelClients(cfg.ModelClients, fc.ModelClients)
	cfg.Tenants = mergeTenants(cfg.Tenants, fc.Tenants)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDir loads every *.yaml/*.yml file directly under dir, in lexical
// filename order. Each file is loaded and validated on its own by Load
// (built-in defaults plus that one file), and the last file's result is
// returned; earlier files are not merged into it, so settings that appear
// only in earlier files are not in the returned Config.
func LoadDir(dir string) (*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewLoadError(dir, err)
	}

	cfg := Defaults()
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		found = true
		loaded, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if !found {
		return nil, fmt.Errorf("%w: no yaml files in %s", ErrConfigNotFound, dir)
	}
	return cfg, nil
}

// ForTenant returns the effective Config for tenantID, with that tenant's
// overrides merged onto cfg via mergo.WithOverride. An unknown tenantID
// returns cfg unchanged.
func ForTenant(cfg *Config, tenantID string) (*Config, error) {
	override, ok := cfg.Tenants[tenantID]
	if !ok {
		return cfg, nil
	}
	merged, err := applyTenantOverride(*cfg, override)
	if err != nil {
		return nil, fmt.Errorf("config: merging tenant %q: %w", tenantID, err)
	}
	return &merged, nil
}
