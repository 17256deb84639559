package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/antiabuse"
	"bountyescrow/native/bounty"
	"bountyescrow/native/circuit"
	"bountyescrow/native/escrow"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bbolt"
	BackendMemory  = "memory"

	DefaultVault        = "0x000000000000000000000000000000000000e5c0"
	DefaultClaimWindow  = escrow.DefaultClaimWindow
	DefaultMaxBatchSize = escrow.MaxBatchSize
)

// RateLimit seeds the admission controller until an administrator changes
// it.
type RateLimit struct {
	WindowSize     uint64 `toml:"WindowSize"`
	MaxOperations  uint32 `toml:"MaxOperations"`
	CooldownPeriod uint64 `toml:"CooldownPeriod"`
}

func (r *RateLimit) applyDefaults() {
	if r.WindowSize == 0 && r.MaxOperations == 0 && r.CooldownPeriod == 0 {
		*r = RateLimit{
			WindowSize:     antiabuse.DefaultWindowSize,
			MaxOperations:  antiabuse.DefaultMaxOperations,
			CooldownPeriod: antiabuse.DefaultCooldownPeriod,
		}
	}
}

// Circuit seeds the payout breaker thresholds.
type Circuit struct {
	FailureThreshold uint32 `toml:"FailureThreshold"`
	SuccessThreshold uint32 `toml:"SuccessThreshold"`
	MaxErrorLog      uint32 `toml:"MaxErrorLog"`
}

func (c *Circuit) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = circuit.DefaultFailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = circuit.DefaultSuccessThreshold
	}
	if c.MaxErrorLog == 0 {
		c.MaxErrorLog = circuit.DefaultMaxErrorLog
	}
}

// AmountPolicy holds decimal lock bounds applied right after initialisation.
// Both empty means no policy.
type AmountPolicy struct {
	Min string `toml:"Min"`
	Max string `toml:"Max"`
}

// Bounds parses the policy. It returns nil bounds when the policy is unset.
func (p AmountPolicy) Bounds() (*big.Int, *big.Int, error) {
	if strings.TrimSpace(p.Min) == "" && strings.TrimSpace(p.Max) == "" {
		return nil, nil, nil
	}
	lower, err := parseAmount(p.Min)
	if err != nil {
		return nil, nil, fmt.Errorf("amount_policy.Min: %w", err)
	}
	upper, err := parseAmount(p.Max)
	if err != nil {
		return nil, nil, fmt.Errorf("amount_policy.Max: %w", err)
	}
	return lower, upper, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%q is not a positive integer", raw)
	}
	return amount, nil
}

// VaultAddress returns the configured vault.
func (c *Config) VaultAddress() common.Address {
	return common.HexToAddress(c.Vault)
}

// EngineDefaults converts the admission and breaker sections for the engine.
func (c *Config) EngineDefaults() bounty.Defaults {
	return bounty.Defaults{
		RateLimit: antiabuse.Config{
			WindowSize:     c.RateLimit.WindowSize,
			MaxOperations:  c.RateLimit.MaxOperations,
			CooldownPeriod: c.RateLimit.CooldownPeriod,
		},
		Circuit: circuit.Config{
			FailureThreshold: c.Circuit.FailureThreshold,
			SuccessThreshold: c.Circuit.SuccessThreshold,
			MaxErrorLog:      c.Circuit.MaxErrorLog,
		},
	}
}
