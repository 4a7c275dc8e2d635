// Package config holds the service configuration, loaded from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/warp/listing-codes/codes"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Codes    CodesConfig    `yaml:"codes"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"`
	LoadScenarios  bool     `yaml:"load_scenarios"` // seed demo listings on start
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CodesConfig struct {
	GuardLimit     int    `yaml:"guard_limit"`
	RulesFile      string `yaml:"rules_file"`      // empty uses the built-in table
	VerifyInterval string `yaml:"verify_interval"` // empty disables the background check
	AutoRepair     bool   `yaml:"auto_repair"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:    "15s",
			WriteTimeout:   "15s",
		},
		Database: DatabaseConfig{
			Path: "listings.db",
		},
		Codes: CodesConfig{
			GuardLimit:     codes.DefaultGuardLimit,
			VerifyInterval: "1h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if path := os.Getenv("LISTING_DB"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("LISTING_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("LISTING_PORT: %w", err)
		}
		c.Server.Port = n
	}
	if level := os.Getenv("LISTING_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if rules := os.Getenv("LISTING_RULES"); rules != "" {
		c.Codes.RulesFile = rules
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Codes.GuardLimit <= 0 {
		problems = append(problems, "codes.guard_limit must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, fmt.Sprintf("logging.level %q", c.Logging.Level))
	}
	for name, d := range map[string]string{
		"server.read_timeout":   c.Server.ReadTimeout,
		"server.write_timeout":  c.Server.WriteTimeout,
		"codes.verify_interval": c.Codes.VerifyInterval,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			problems = append(problems, fmt.Sprintf("%s %q", name, d))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

// GetReadTimeout returns the read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 15*time.Second)
}

// GetVerifyInterval returns the integrity check interval; 0 disables it.
func (c *Config) GetVerifyInterval() time.Duration {
	return parseDuration(c.Codes.VerifyInterval, 0)
}

// GetLogLevel returns the zap level, defaulting to info.
func (c *Config) GetLogLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
