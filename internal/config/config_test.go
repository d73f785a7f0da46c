// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherline/gatherline/internal/config"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 20, cfg.Cache.PageSize)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/gatherline")
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/gatherline", cfg.Database.URL)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://db:5432/gatherline
cache:
  page_size: 50
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db:5432/gatherline", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Cache.PageSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Addr, "unset keys keep their defaults")
}

func TestFlagsOverrideFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log.level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log.level=warn"}))

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"negative page size", "cache:\n  page_size: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, err := config.Load(path, nil)
			require.Error(t, err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}
