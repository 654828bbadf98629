package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all sanctum configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Logging     LoggingConfig     `toml:"logging"`
	Mentor      MentorConfig      `toml:"mentor"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type StorageConfig struct {
	DataDir         string        `toml:"data_dir"` // root holding one directory per user
	IOTimeout       time.Duration `toml:"io_timeout"`
	ConversationCap int           `toml:"conversation_cap"`
	PatternWindow   int           `toml:"pattern_window"` // habit snapshots feeding the averages
	IdleHandleTTL   time.Duration `toml:"idle_handle_ttl"`
	AnalyticsTTL    time.Duration `toml:"analytics_ttl"`
}

type MaintenanceConfig struct {
	Enabled        bool          `toml:"enabled"`
	SweepInterval  time.Duration `toml:"sweep_interval"`
	VerifyInterval time.Duration `toml:"verify_interval"` // zero disables the audit sweep
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

type MentorConfig struct {
	Provider string        `toml:"provider"` // "rules", "openai", "anthropic", "ollama"
	Model    string        `toml:"model"`
	APIKey   string        `toml:"api_key"`
	BaseURL  string        `toml:"base_url"`
	Timeout  time.Duration `toml:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Storage: StorageConfig{
			DataDir:         "", // resolved at runtime via DefaultDataDir()
			IOTimeout:       10 * time.Second,
			ConversationCap: 20,
			PatternWindow:   30,
			IdleHandleTTL:   15 * time.Minute,
			AnalyticsTTL:    5 * time.Minute,
		},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			SweepInterval:  10 * time.Minute,
			VerifyInterval: 6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Mentor: MentorConfig{
			Provider: "rules",
			Timeout:  60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DefaultPath returns ~/.sanctum/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".sanctum", "config.toml"), nil
}

// DefaultDataDir returns ~/.sanctum/users.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".sanctum", "users"), nil
}

// Load builds the configuration: defaults, then the TOML file at path (a
// missing file is not an error when optional is set), then a .env file in
// the working directory, then environment overrides. The result is
// validated.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !(optional && errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Storage.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.Storage.DataDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with SANCTUM_* variables. Provider API
// keys fall back to the vendor's usual variable when the file leaves them
// empty.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SANCTUM_DATA_DIR", &c.Storage.DataDir)
	str("SANCTUM_BIND", &c.Server.Bind)
	str("SANCTUM_LOG_LEVEL", &c.Logging.Level)
	str("SANCTUM_LOG_FORMAT", &c.Logging.Format)
	str("SANCTUM_MENTOR_PROVIDER", &c.Mentor.Provider)
	str("SANCTUM_MENTOR_MODEL", &c.Mentor.Model)

	if v, ok := lookup("SANCTUM_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SANCTUM_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SANCTUM_IO_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SANCTUM_IO_TIMEOUT: %w", err)
		}
		c.Storage.IOTimeout = d
	}

	if c.Mentor.APIKey == "" {
		switch c.Mentor.Provider {
		case "openai":
			str("OPENAI_API_KEY", &c.Mentor.APIKey)
		case "anthropic":
			str("ANTHROPIC_API_KEY", &c.Mentor.APIKey)
		}
	}
	return nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.IOTimeout <= 0 {
		errs = append(errs, fmt.Errorf("storage.io_timeout must be positive"))
	}
	if c.Storage.ConversationCap < 1 {
		errs = append(errs, fmt.Errorf("storage.conversation_cap must be at least 1"))
	}
	if c.Storage.PatternWindow < 1 {
		errs = append(errs, fmt.Errorf("storage.pattern_window must be at least 1"))
	}
	if c.Storage.IdleHandleTTL < 0 || c.Storage.AnalyticsTTL < 0 {
		errs = append(errs, fmt.Errorf("storage ttls must not be negative"))
	}
	if c.Maintenance.Enabled && c.Maintenance.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("maintenance.sweep_interval must be positive when maintenance is enabled"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q unknown", c.Logging.Format))
	}
	switch c.Mentor.Provider {
	case "rules", "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("mentor.provider %q unknown", c.Mentor.Provider))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
