package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.Server.MQTT.URL)
	assert.Equal(t, 32, cfg.Limits.MaxInflight)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vibemq.yaml")
	yamlBody := "server:\n  mqtt:\n    url: tcp://0.0.0.0:1884\nlimits:\n  max_inflight: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://0.0.0.0:1884", cfg.Server.MQTT.URL)
	assert.Equal(t, 8, cfg.Limits.MaxInflight)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VIBEMQ__SERVER__MQTT__URL", "tcp://0.0.0.0:1999")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tcp://0.0.0.0:1999", cfg.Server.MQTT.URL)
}

func TestValidatePasswordExclusivityRejectsBoth(t *testing.T) {
	cfg := Default()
	cfg.Auth.Users = []User{{Username: "dup", Password: "p", PasswordHash: "h"}}
	err := ValidatePasswordExclusivity(cfg)
	require.Error(t, err)
}

func TestValidatePasswordExclusivityAllowsEither(t *testing.T) {
	cfg := Default()
	cfg.Auth.Users = []User{
		{Username: "plain", Password: "p"},
		{Username: "hashed", PasswordHash: "h"},
	}
	require.NoError(t, ValidatePasswordExclusivity(cfg))
}
