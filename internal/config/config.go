// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

// Package config loads server configuration from a YAML file, the
// environment, and command-line flags, in that order of precedence
// (flags win).
package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds the runtime configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

// DatabaseConfig selects the backing document store.
type DatabaseConfig struct {
	// URL is a postgres connection string. Blank selects the in-memory
	// store, which loses everything on exit.
	URL string `koanf:"url"`
}

// CacheConfig tunes the object cache.
type CacheConfig struct {
	// PageSize is the default page size of paged queries.
	PageSize int `koanf:"page_size"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// Default returns the built-in configuration. DATABASE_URL, when set,
// selects postgres.
func Default() Config {
	return Config{
		Database: DatabaseConfig{URL: os.Getenv("DATABASE_URL")},
		Cache:    CacheConfig{PageSize: 20},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load layers the config file (optional) and flags over the defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("CONFIG_INVALID").With("level", c.Log.Level).Errorf("unknown log level")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return oops.Code("CONFIG_INVALID").With("format", c.Log.Format).Errorf("unknown log format")
	}
	if c.Cache.PageSize < 0 {
		return oops.Code("CONFIG_INVALID").With("page_size", c.Cache.PageSize).Errorf("page size must not be negative")
	}
	return nil
}
