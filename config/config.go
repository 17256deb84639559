package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the escrow engine configuration stored as TOML next to the data
// directory.
type Config struct {
	DataDir      string       `toml:"DataDir"`
	Backend      string       `toml:"Backend"`
	Vault        string       `toml:"Vault"`
	ClaimWindow  uint64       `toml:"ClaimWindow"`
	MaxBatchSize int          `toml:"MaxBatchSize"`
	RateLimit    RateLimit    `toml:"rate_limit"`
	Circuit      Circuit      `toml:"circuit"`
	AmountPolicy AmountPolicy `toml:"amount_policy"`
}

// Load reads the configuration at path, writing a default file when none
// exists yet. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config: %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	// Zero is a legal window, so only a missing key takes the default.
	if !meta.IsDefined("ClaimWindow") {
		cfg.ClaimWindow = DefaultClaimWindow
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	cfg := &Config{ClaimWindow: DefaultClaimWindow}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = BackendLevelDB
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if strings.TrimSpace(c.Vault) == "" {
		c.Vault = DefaultVault
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	c.RateLimit.applyDefaults()
	c.Circuit.applyDefaults()
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
