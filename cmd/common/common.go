// Package common provides the shared configuration schema and helpers for
// the ranknet CLI commands.
package common

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flashbots/ranknet/protocol"
	"github.com/flashbots/ranknet/services"
)

// Config is the YAML configuration shared by the service binaries. Flags
// override whatever the file sets.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	RegistryURL string `yaml:"registry_url"`
	LogJSON     bool   `yaml:"log_json"`
	LogDebug    bool   `yaml:"log_debug"`
	Pprof       bool   `yaml:"pprof"`

	World struct {
		Size          int           `yaml:"size"`
		HalvingRounds int           `yaml:"halving_rounds"`
		PhaseDeadline time.Duration `yaml:"phase_deadline"`
	} `yaml:"world"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"postgres"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadConfigOrDefault loads the file when path is non-empty, otherwise the
// defaults.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// ProtocolConfig builds the role parameters from the world section.
func (c *Config) ProtocolConfig() *protocol.Config {
	return &protocol.Config{
		HalvingRounds: c.World.HalvingRounds,
		PhaseDeadline: c.World.PhaseDeadline,
	}
}

// RunStore opens the configured PostgreSQL store, or returns nil when no
// database is configured.
func (c *Config) RunStore() (services.RunStore, error) {
	if c.Postgres.Host == "" {
		return nil, nil
	}
	return services.NewPostgresStore(&services.PostgresConfig{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Password: c.Postgres.Password,
		Database: c.Postgres.Database,
		SSLMode:  c.Postgres.SSLMode,
	})
}

// SetupLogger builds the process logger and installs it as the slog
// default.
func SetupLogger(cfg *Config, service string) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	log := slog.New(handler).With("service", service)
	slog.SetDefault(log)
	return log
}
