package circuit

import (
	escrowerr "bountyescrow/core/errors"
	"bountyescrow/native/common"
)

// State is the breaker position.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) Valid() bool {
	switch s {
	case StateClosed, StateOpen, StateHalfOpen:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold uint32 = 3
	DefaultSuccessThreshold uint32 = 1
	DefaultMaxErrorLog      uint32 = 10

	// MaxErrorLogLimit caps the configurable error log arena.
	MaxErrorLogLimit uint32 = 1000
)

// Config holds the administrator supplied thresholds.
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	MaxErrorLog      uint32
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		MaxErrorLog:      DefaultMaxErrorLog,
	}
}

func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return escrowerr.ErrInvalidConfig.Wrapf("failure threshold must be positive")
	}
	if c.SuccessThreshold == 0 {
		return escrowerr.ErrInvalidConfig.Wrapf("success threshold must be positive")
	}
	if c.MaxErrorLog == 0 || c.MaxErrorLog > MaxErrorLogLimit {
		return escrowerr.ErrInvalidConfig.Wrapf("error log size must be within 1..%d", MaxErrorLogLimit)
	}
	return nil
}

// ErrorEntry is one recorded payout failure.
type ErrorEntry struct {
	ProgramID string
	Operation string
	ErrorCode uint32
	Timestamp uint64
}

// Record is the persisted breaker singleton.
type Record struct {
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	TotalFailures        uint64
	LastFailureAt        uint64
	OpenedAt             uint64
	Config               Config
	ErrorLog             *common.Ring[ErrorEntry]
}

func newRecord(cfg Config) *Record {
	return &Record{
		State:    StateClosed,
		Config:   cfg,
		ErrorLog: common.NewRing[ErrorEntry](int(cfg.MaxErrorLog)),
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.ErrorLog = r.ErrorLog.Clone()
	return &clone
}

// Status is the read-only view returned to callers.
type Status struct {
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	TotalFailures        uint64
	LastFailureAt        uint64
	OpenedAt             uint64
	Config               Config
}
