package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.TotalClasses())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	yamlData := `
model:
  head: cosine
  embed_dim: 32
  proxies: 2
sessions:
  init_classes: 6
  increment: 2
  count: 4
training:
  optimizer: adam
  lr: 0.001
output:
  format: safetensors
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, HeadCosine, cfg.Model.Head)
	assert.Equal(t, 32, cfg.Model.EmbedDim)
	assert.Equal(t, 2, cfg.Model.Proxies)
	assert.Equal(t, "adam", cfg.Training.Optimizer)
	assert.Equal(t, FormatSafeTensors, cfg.Output.Format)
	// Unset fields keep their defaults.
	assert.Equal(t, 32, cfg.Training.BatchSize)
	assert.Equal(t, 12, cfg.TotalClasses())
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLR, "0.05")
	t.Setenv(EnvEpochs, "3")
	t.Setenv(EnvOutputDir, "/tmp/out")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.InDelta(t, 0.05, cfg.Training.LR, 1e-12)
	assert.Equal(t, 3, cfg.Training.Epochs)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv(EnvEpochs, "many")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown head", func(c *Config) { c.Model.Head = "mlp" }},
		{"zero embed dim", func(c *Config) { c.Model.EmbedDim = 0 }},
		{"zero proxies", func(c *Config) { c.Model.Proxies = 0 }},
		{"feature expansion on cosine", func(c *Config) { c.Model.Head = HeadCosine; c.Model.FeatureExpansion = true }},
		{"missing increment", func(c *Config) { c.Sessions.Increment = 0 }},
		{"zero epochs", func(c *Config) { c.Training.Epochs = 0 }},
		{"momentum one", func(c *Config) { c.Training.Momentum = 1 }},
		{"unknown optimizer", func(c *Config) { c.Training.Optimizer = "lbfgs" }},
		{"unknown format", func(c *Config) { c.Output.Format = "onnx" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	cfg := Default()
	cfg.Model.Head = HeadLinear
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
