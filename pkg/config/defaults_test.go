package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults_PassesStructValidationModuloModelClients(t *testing.T) {
	cfg := Defaults()
	cfg.ModelClients = validConfigWithClients().ModelClients
	assert.NoError(t, Validate(cfg))
}

func TestDefaults_FeaturesAllEnabled(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.Features.Expand)
	assert.True(t, cfg.Features.Teacher)
	assert.True(t, cfg.Features.Decompose)
	assert.True(t, cfg.Features.Recurse)
	assert.True(t, cfg.Features.Refine)
	assert.True(t, cfg.Features.Context)
	assert.True(t, cfg.Features.Memory)
}
