package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_PlainVar(t *testing.T) {
	t.Setenv("COST_ENGINE_API_KEY", "sk-test-123")
	out := ExpandEnv([]byte(`api_key_env: ${COST_ENGINE_API_KEY}`))
	assert.Equal(t, "api_key_env: sk-test-123", string(out))
}

func TestExpandEnv_DollarVar(t *testing.T) {
	t.Setenv("REGION", "us-east-1")
	out := ExpandEnv([]byte(`region: $REGION`))
	assert.Equal(t, "region: us-east-1", string(out))
}

func TestExpandEnv_DefaultFallback_Unset(t *testing.T) {
	out := ExpandEnv([]byte(`backend: ${MEMORY_BACKEND:-memory}`))
	assert.Equal(t, "backend: memory", string(out))
}

func TestExpandEnv_DefaultFallback_Set(t *testing.T) {
	t.Setenv("MEMORY_BACKEND", "postgres")
	out := ExpandEnv([]byte(`backend: ${MEMORY_BACKEND:-memory}`))
	assert.Equal(t, "backend: postgres", string(out))
}

func TestExpandEnv_UnsetNoDefault(t *testing.T) {
	out := ExpandEnv([]byte(`value: ${TOTALLY_UNSET_VAR}`))
	assert.Equal(t, "value: ", string(out))
}
