package antiabuse

import (
	escrowerr "bountyescrow/core/errors"
	"bountyescrow/native/common"
)

const (
	DefaultWindowSize     uint64 = 3600
	DefaultMaxOperations  uint32 = 10
	DefaultCooldownPeriod uint64 = 60

	// MaxTrackedOperations bounds the per-caller history arena.
	MaxTrackedOperations uint32 = 1024
)

// Config controls the sliding window and cooldown applied to every
// non-whitelisted caller.
type Config struct {
	WindowSize     uint64
	MaxOperations  uint32
	CooldownPeriod uint64
}

// DefaultConfig returns the limits applied before an administrator
// configures the controller.
func DefaultConfig() Config {
	return Config{
		WindowSize:     DefaultWindowSize,
		MaxOperations:  DefaultMaxOperations,
		CooldownPeriod: DefaultCooldownPeriod,
	}
}

// Validate rejects configurations that could never admit a call or that
// would require an unbounded history.
func (c Config) Validate() error {
	if c.WindowSize == 0 {
		return escrowerr.ErrInvalidConfig.Wrapf("window size must be positive")
	}
	if c.MaxOperations == 0 {
		return escrowerr.ErrInvalidConfig.Wrapf("max operations must be positive")
	}
	if c.MaxOperations > MaxTrackedOperations {
		return escrowerr.ErrInvalidConfig.Wrapf("max operations above %d", MaxTrackedOperations)
	}
	return nil
}

// History is the per-caller ring of operation timestamps. Its capacity tracks
// MaxOperations: only the newest MaxOperations entries can influence a
// window decision.
type History = common.Ring[uint64]

// NewHistory allocates an empty history sized for cfg.
func NewHistory(cfg Config) *History {
	return common.NewRing[uint64](int(cfg.MaxOperations))
}

// Evaluate decides whether a caller with the supplied history may act at now.
// It is pure: the caller records the timestamp once the guarded operation has
// succeeded.
func Evaluate(cfg Config, history *History, now uint64) error {
	if last, ok := history.Last(); ok && cfg.CooldownPeriod > 0 {
		if now < last || now-last < cfg.CooldownPeriod {
			return escrowerr.ErrCooldownViolation
		}
	}
	var from uint64
	if now > cfg.WindowSize {
		from = now - cfg.WindowSize
	}
	var count uint32
	for _, ts := range history.Items() {
		if ts >= from && ts <= now {
			count++
		}
	}
	if count >= cfg.MaxOperations {
		return escrowerr.ErrRateLimitExceeded
	}
	return nil
}
