package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/escrow"
)

// ValidateConfig rejects configurations the engine would refuse at runtime.
func ValidateConfig(c *Config) error {
	switch c.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: unknown Backend %q", c.Backend)
	}
	if !common.IsHexAddress(c.Vault) {
		return fmt.Errorf("config: Vault %q is not a hex address", c.Vault)
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > escrow.MaxBatchSize {
		return fmt.Errorf("config: MaxBatchSize must be within 1..%d", escrow.MaxBatchSize)
	}
	defaults := c.EngineDefaults()
	if err := defaults.RateLimit.Validate(); err != nil {
		return fmt.Errorf("config: rate_limit: %w", err)
	}
	if err := defaults.Circuit.Validate(); err != nil {
		return fmt.Errorf("config: circuit: %w", err)
	}
	lower, upper, err := c.AmountPolicy.Bounds()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if lower != nil {
		policy := &escrow.AmountPolicy{Min: lower, Max: upper}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("config: amount_policy: %w", err)
		}
	}
	return nil
}
