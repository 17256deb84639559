package events

import (
	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/core/types"
)

const (
	TypeAntiAbuseConfigUpdated    = "antiabuse.config_updated"
	TypeAntiAbuseWhitelistUpdated = "antiabuse.whitelist_updated"
)

type RateLimitConfigUpdated struct {
	WindowSize     uint64
	MaxOperations  uint32
	CooldownPeriod uint64
}

func (RateLimitConfigUpdated) EventType() string { return TypeAntiAbuseConfigUpdated }

func (e RateLimitConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAntiAbuseConfigUpdated,
		Attributes: map[string]string{
			"windowSize":     uintToString(e.WindowSize),
			"maxOperations":  uintToString(uint64(e.MaxOperations)),
			"cooldownPeriod": uintToString(e.CooldownPeriod),
		},
	}
}

type RateLimitWhitelistUpdated struct {
	Address     common.Address
	Whitelisted bool
}

func (RateLimitWhitelistUpdated) EventType() string { return TypeAntiAbuseWhitelistUpdated }

func (e RateLimitWhitelistUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAntiAbuseWhitelistUpdated,
		Attributes: map[string]string{
			"address":     addressString(e.Address),
			"whitelisted": boolToString(e.Whitelisted),
		},
	}
}
