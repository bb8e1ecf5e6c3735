package config

import "dario.cat/mergo"

// mergeModelClients overlays user-defined model clients onto the built-in
// defaults, keyed by name. A user entry fully replaces a built-in entry of
// the same name; built-in entries the user doesn't mention are kept as-is.
func mergeModelClients(base, overlay map[string]ModelClientConfig) map[string]ModelClientConfig {
	merged := make(map[string]ModelClientConfig, len(base)+len(overlay))
	for name, cfg := range base {
		merged[name] = cfg
	}
	for name, cfg := range overlay {
		merged[name] = cfg
	}
	return merged
}

// mergeTenants overlays user-defined tenant overrides onto the built-in
// set the same way: full replacement per tenant ID.
func mergeTenants(base, overlay map[string]TenantOverride) map[string]TenantOverride {
	merged := make(map[string]TenantOverride, len(base)+len(overlay))
	for id, t := range base {
		merged[id] = t
	}
	for id, t := range overlay {
		merged[id] = t
	}
	return merged
}

// applyTenantOverride returns a copy of cfg with the named tenant's
// overrides merged on top using mergo.WithOverride, mirroring the
// teacher's one mergo call site (queue config merge in loader.go).
func applyTenantOverride(cfg Config, override TenantOverride) (Config, error) {
	result := cfg
	if override.Router != nil {
		if err := mergo.Merge(&result.Router, *override.Router, mergo.WithOverride); err != nil {
			return cfg, err
		}
	}
	if override.Budget != nil {
		if err := mergo.Merge(&result.Budget, *override.Budget, mergo.WithOverride); err != nil {
			return cfg, err
		}
	}
	if override.Features != nil {
		if err := mergo.Merge(&result.Features, *override.Features, mergo.WithOverride); err != nil {
			return cfg, err
		}
	}
	return result, nil
}
