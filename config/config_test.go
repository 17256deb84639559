package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bountyescrow/native/antiabuse"
	"bountyescrow/native/circuit"
	"bountyescrow/native/escrow"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "escrow.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendLevelDB || cfg.ClaimWindow != escrow.DefaultClaimWindow || cfg.MaxBatchSize != escrow.MaxBatchSize {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reload differs: %+v vs %+v", again, cfg)
	}
	defaults := cfg.EngineDefaults()
	if defaults.RateLimit != antiabuse.DefaultConfig() || defaults.Circuit != circuit.DefaultConfig() {
		t.Fatalf("unexpected engine defaults %+v", defaults)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.toml")
	contents := `DataDir = "/var/lib/escrow"
Backend = "BBolt"
Vault = "0x00000000000000000000000000000000000000aa"
ClaimWindow = 3600

[rate_limit]
WindowSize = 600
MaxOperations = 2
CooldownPeriod = 0

[circuit]
FailureThreshold = 5

[amount_policy]
Min = "100"
Max = "10000"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendBolt || cfg.ClaimWindow != 3600 || cfg.RateLimit.MaxOperations != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Circuit.FailureThreshold != 5 || cfg.Circuit.SuccessThreshold != circuit.DefaultSuccessThreshold {
		t.Fatalf("circuit defaults not merged: %+v", cfg.Circuit)
	}
	lower, upper, err := cfg.AmountPolicy.Bounds()
	if err != nil || lower.Int64() != 100 || upper.Int64() != 10_000 {
		t.Fatalf("unexpected bounds %v %v (%v)", lower, upper, err)
	}
	if cfg.VaultAddress().Hex() != "0x00000000000000000000000000000000000000AA" {
		t.Fatalf("unexpected vault %s", cfg.VaultAddress().Hex())
	}
}

func TestLoadKeepsZeroClaimWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.toml")
	if err := os.WriteFile(path, []byte("ClaimWindow = 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClaimWindow != 0 {
		t.Fatalf("explicit zero window replaced with %d", cfg.ClaimWindow)
	}

	if err := os.WriteFile(path, []byte("Backend = \"memory\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClaimWindow != escrow.DefaultClaimWindow {
		t.Fatalf("missing window should default, got %d", cfg.ClaimWindow)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "Backend = \"memory\"\nValidatorKey = \"x\"\n",
		"backend":         "Backend = \"redis\"\n",
		"vault":           "Vault = \"not-an-address\"\n",
		"batch size":      "MaxBatchSize = 101\n",
		"inverted policy": "[amount_policy]\nMin = \"10\"\nMax = \"5\"\n",
		"half policy":     "[amount_policy]\nMin = \"10\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "escrow.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected %s to be rejected", strings.TrimSpace(name))
			}
		})
	}
}
