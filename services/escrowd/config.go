package escrowd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	engineconfig "bountyescrow/config"
)

// Duration wraps time.Duration so YAML files can use "15s" style values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// SecretEnv names the environment variable holding the HMAC secret.
	SecretEnv string   `yaml:"secretEnv"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clockSkew"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type AuditConfig struct {
	// DSN is a postgres URL or a sqlite path. Empty keeps the trail in memory.
	DSN       string `yaml:"dsn"`
	ExportDir string `yaml:"exportDir"`
}

type StreamConfig struct {
	Backlog      int      `yaml:"backlog"`
	Buffer       int      `yaml:"buffer"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Config is the escrowd service configuration. Engine tunables live in the
// TOML file named by Engine.
type Config struct {
	Listen         string          `yaml:"listen"`
	Environment    string          `yaml:"environment"`
	Engine         string          `yaml:"engine"`
	DataDir        string          `yaml:"dataDir"`
	Backend        string          `yaml:"backend"`
	IdempotencyDB  string          `yaml:"idempotencyDB"`
	IdempotencyTTL Duration        `yaml:"idempotencyTTL"`
	ReadTimeout    Duration        `yaml:"readTimeout"`
	WriteTimeout   Duration        `yaml:"writeTimeout"`
	Faucet         bool            `yaml:"faucet"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Audit          AuditConfig     `yaml:"audit"`
	Stream         StreamConfig    `yaml:"stream"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	Log            LogConfig       `yaml:"log"`
}

// LoadConfig reads the YAML file at path. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = ":8090"
	}
	if strings.TrimSpace(c.Engine) == "" {
		c.Engine = "escrow.toml"
	}
	if strings.TrimSpace(c.IdempotencyDB) == "" {
		c.IdempotencyDB = "escrowd-idempotency.db"
	}
	if c.IdempotencyTTL.Duration <= 0 {
		c.IdempotencyTTL.Duration = 24 * time.Hour
	}
	if c.ReadTimeout.Duration <= 0 {
		c.ReadTimeout.Duration = 15 * time.Second
	}
	if c.WriteTimeout.Duration <= 0 {
		c.WriteTimeout.Duration = 15 * time.Second
	}
	if strings.TrimSpace(c.Auth.SecretEnv) == "" {
		c.Auth.SecretEnv = "ESCROWD_JWT_SECRET"
	}
	if c.Auth.ClockSkew.Duration <= 0 {
		c.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 50
	}
	if c.Stream.Backlog <= 0 {
		c.Stream.Backlog = 256
	}
	if c.Stream.Buffer <= 0 {
		c.Stream.Buffer = 64
	}
	if c.Stream.WriteTimeout.Duration <= 0 {
		c.Stream.WriteTimeout.Duration = 5 * time.Second
	}
	if strings.TrimSpace(c.Audit.ExportDir) == "" {
		c.Audit.ExportDir = "exports"
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

func (c Config) validate() error {
	switch strings.TrimSpace(c.Backend) {
	case "", engineconfig.BackendLevelDB, engineconfig.BackendBolt, engineconfig.BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("config: telemetry.sampleRatio must be within 0..1")
	}
	if c.Auth.Enabled && strings.TrimSpace(os.Getenv(c.Auth.SecretEnv)) == "" {
		return fmt.Errorf("config: auth enabled but %s is empty", c.Auth.SecretEnv)
	}
	return nil
}

// Secret returns the JWT HMAC secret from the configured environment variable.
func (a AuthConfig) Secret() string {
	return strings.TrimSpace(os.Getenv(a.SecretEnv))
}
