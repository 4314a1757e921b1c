// Package config loads runtime settings from an optional config file,
// ELASTIC_* environment variables and built-in defaults, in that order of
// precedence below explicitly bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elasticmodels/elastic/internal/registry"
)

// EnvPrefix is prepended to every environment variable, so storage.path
// is read from ELASTIC_STORAGE_PATH.
const EnvPrefix = "ELASTIC"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config is the resolved configuration.
type Config struct {
	Storage     StorageConfig
	Server      ServerConfig
	Fields      FieldsConfig
	Definitions DefinitionsConfig
	Log         LogConfig

	// File is the config file that was read, empty when none was found.
	File string
}

type StorageConfig struct {
	Backend     string
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

type ServerConfig struct {
	Addr string
}

type FieldsConfig struct {
	OnChange registry.Policy
}

type DefinitionsConfig struct {
	Dir      string
	Watch    bool
	Prune    bool
	Debounce time.Duration
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.path", filepath.Join(".elastic", "elastic.db"))
	v.SetDefault("storage.busy_timeout", 5*time.Second)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("fields.on_change", string(registry.PolicyWipe))
	v.SetDefault("definitions.dir", "")
	v.SetDefault("definitions.watch", false)
	v.SetDefault("definitions.prune", false)
	v.SetDefault("definitions.debounce", 100*time.Millisecond)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// New returns a viper instance with defaults and environment binding set
// up. When file is empty, elastic.{yaml,toml,json} is searched for in the
// working directory and then $HOME/.elastic.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName("elastic")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".elastic"))
	}
	return v
}

// Load reads the config file if there is one and resolves v into a Config.
// A missing file is only an error when it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return Resolve(v)
}

// Resolve converts the current values of v into a validated Config.
func Resolve(v *viper.Viper) (*Config, error) {
	policy, err := registry.ParsePolicy(v.GetString("fields.on_change"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Storage: StorageConfig{
			Backend:     strings.ToLower(v.GetString("storage.backend")),
			Driver:      v.GetString("storage.driver"),
			Path:        v.GetString("storage.path"),
			BusyTimeout: v.GetDuration("storage.busy_timeout"),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Fields: FieldsConfig{
			OnChange: policy,
		},
		Definitions: DefinitionsConfig{
			Dir:      v.GetString("definitions.dir"),
			Watch:    v.GetBool("definitions.watch"),
			Prune:    v.GetBool("definitions.prune"),
			Debounce: v.GetDuration("definitions.debounce"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		File: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check on its own.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("unknown storage backend %q (want %s or %s)", c.Storage.Backend, BackendSQLite, BackendBolt)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Definitions.Watch && c.Definitions.Dir == "" {
		return fmt.Errorf("definitions.watch requires definitions.dir")
	}
	if c.Definitions.Debounce <= 0 {
		return fmt.Errorf("definitions.debounce must be positive, got %v", c.Definitions.Debounce)
	}
	return nil
}
