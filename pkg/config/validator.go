package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation followed by the cross-field checks
// the tags can't express, stopping at the first failure (dependency layer
// before dependents, matching the teacher's ValidateAll ordering).
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	if !cfg.Memory.Backend.IsValid() {
		return NewValidationError("memory", "", "backend", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == MemoryBackendPostgres && (cfg.Memory.Postgres == nil || cfg.Memory.Postgres.DSN == "") {
		return NewValidationError("memory", "", "postgres.dsn", fmt.Errorf("%w: required when backend is postgres", ErrMissingRequiredField))
	}

	for name, client := range cfg.ModelClients {
		if !client.Provider.IsValid() {
			return NewValidationError("model_clients", name, "provider", fmt.Errorf("%w: %q", ErrInvalidValue, client.Provider))
		}
		if client.Provider != ModelClientProviderStub && client.APIKeyEnv == "" {
			return NewValidationError("model_clients", name, "api_key_env", fmt.Errorf("%w: required for provider %q", ErrMissingRequiredField, client.Provider))
		}
		if client.FallbackClient != "" {
			if _, ok := cfg.ModelClients[client.FallbackClient]; !ok {
				return NewValidationError("model_clients", name, "fallback_client", fmt.Errorf("%w: %q", ErrModelClientNotFound, client.FallbackClient))
			}
			if client.FallbackClient == name {
				return NewValidationError("model_clients", name, "fallback_client", fmt.Errorf("%w: client cannot fall back to itself", ErrInvalidReference))
			}
		}
	}

	for id, override := range cfg.Tenants {
		if _, err := applyTenantOverride(*cfg, override); err != nil {
			return NewValidationError("tenants", id, "override", err)
		}
	}

	return nil
}
