package state

import (
	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/antiabuse"
	"bountyescrow/native/circuit"
	nativecommon "bountyescrow/native/common"
)

var (
	blacklistPrefix       = []byte("compliance/blacklist/")
	complianceAllowPrefix = []byte("compliance/whitelist/")
	whitelistModeKey      = []byte("compliance/whitelist-mode")
	rateLimitConfigKey    = []byte("antiabuse/config")
	rateLimitAllowPrefix  = []byte("antiabuse/whitelist/")
	callerHistoryPrefix   = []byte("antiabuse/history/")
	circuitRecordKey      = []byte("circuit/record")
)

func addressKey(prefix []byte, addr common.Address) []byte {
	return append(append([]byte(nil), prefix...), addr.Bytes()...)
}

type storedBlacklistEntry struct {
	Reason string
}

// BlacklistGet reports whether addr is blacklisted and why.
func (m *Manager) BlacklistGet(addr common.Address) (string, bool, error) {
	var stored storedBlacklistEntry
	ok, err := m.KVGet(addressKey(blacklistPrefix, addr), &stored)
	if err != nil || !ok {
		return "", false, err
	}
	return stored.Reason, true, nil
}

func (m *Manager) BlacklistPut(addr common.Address, reason string) error {
	return m.KVPut(addressKey(blacklistPrefix, addr), &storedBlacklistEntry{Reason: reason})
}

func (m *Manager) BlacklistDelete(addr common.Address) error {
	return m.KVDelete(addressKey(blacklistPrefix, addr))
}

// WhitelistGet reports whether addr is on the compliance whitelist.
func (m *Manager) WhitelistGet(addr common.Address) (bool, error) {
	var allowed bool
	ok, err := m.KVGet(addressKey(complianceAllowPrefix, addr), &allowed)
	if err != nil || !ok {
		return false, err
	}
	return allowed, nil
}

func (m *Manager) WhitelistPut(addr common.Address, allowed bool) error {
	if !allowed {
		return m.KVDelete(addressKey(complianceAllowPrefix, addr))
	}
	return m.KVPut(addressKey(complianceAllowPrefix, addr), true)
}

func (m *Manager) WhitelistModeGet() (bool, error) {
	var enabled bool
	ok, err := m.KVGet(whitelistModeKey, &enabled)
	if err != nil || !ok {
		return false, err
	}
	return enabled, nil
}

func (m *Manager) WhitelistModePut(enabled bool) error {
	return m.KVPut(whitelistModeKey, enabled)
}

// RateLimitConfigGet loads the admission configuration. The boolean is false
// until an administrator stores one.
func (m *Manager) RateLimitConfigGet() (antiabuse.Config, bool, error) {
	var cfg antiabuse.Config
	ok, err := m.KVGet(rateLimitConfigKey, &cfg)
	if err != nil || !ok {
		return antiabuse.Config{}, false, err
	}
	return cfg, true, nil
}

func (m *Manager) RateLimitConfigPut(cfg antiabuse.Config) error {
	return m.KVPut(rateLimitConfigKey, &cfg)
}

func (m *Manager) RateLimitWhitelistGet(addr common.Address) (bool, error) {
	var whitelisted bool
	ok, err := m.KVGet(addressKey(rateLimitAllowPrefix, addr), &whitelisted)
	if err != nil || !ok {
		return false, err
	}
	return whitelisted, nil
}

func (m *Manager) RateLimitWhitelistPut(addr common.Address, whitelisted bool) error {
	if !whitelisted {
		return m.KVDelete(addressKey(rateLimitAllowPrefix, addr))
	}
	return m.KVPut(addressKey(rateLimitAllowPrefix, addr), true)
}

type storedHistory struct {
	Slots []uint64
	Head  uint32
	Size  uint32
}

// CallerHistoryGet loads the admitted operation timestamps of addr.
func (m *Manager) CallerHistoryGet(addr common.Address) (*antiabuse.History, bool, error) {
	var stored storedHistory
	ok, err := m.KVGet(addressKey(callerHistoryPrefix, addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &antiabuse.History{Slots: stored.Slots, Head: stored.Head, Size: stored.Size}, true, nil
}

func (m *Manager) CallerHistoryPut(addr common.Address, history *antiabuse.History) error {
	if history == nil {
		return m.KVDelete(addressKey(callerHistoryPrefix, addr))
	}
	return m.KVPut(addressKey(callerHistoryPrefix, addr), &storedHistory{
		Slots: history.Slots,
		Head:  history.Head,
		Size:  history.Size,
	})
}

type storedCircuit struct {
	State                uint8
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	TotalFailures        uint64
	LastFailureAt        uint64
	OpenedAt             uint64
	FailureThreshold     uint32
	SuccessThreshold     uint32
	MaxErrorLog          uint32
	LogSlots             []circuit.ErrorEntry
	LogHead              uint32
	LogSize              uint32
}

// CircuitGet loads the breaker singleton.
func (m *Manager) CircuitGet() (*circuit.Record, bool, error) {
	var stored storedCircuit
	ok, err := m.KVGet(circuitRecordKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &circuit.Record{
		State:                circuit.State(stored.State),
		ConsecutiveFailures:  stored.ConsecutiveFailures,
		ConsecutiveSuccesses: stored.ConsecutiveSuccesses,
		TotalFailures:        stored.TotalFailures,
		LastFailureAt:        stored.LastFailureAt,
		OpenedAt:             stored.OpenedAt,
		Config: circuit.Config{
			FailureThreshold: stored.FailureThreshold,
			SuccessThreshold: stored.SuccessThreshold,
			MaxErrorLog:      stored.MaxErrorLog,
		},
		ErrorLog: &nativecommon.Ring[circuit.ErrorEntry]{Slots: stored.LogSlots, Head: stored.LogHead, Size: stored.LogSize},
	}, true, nil
}

func (m *Manager) CircuitPut(rec *circuit.Record) error {
	stored := &storedCircuit{
		State:                uint8(rec.State),
		ConsecutiveFailures:  rec.ConsecutiveFailures,
		ConsecutiveSuccesses: rec.ConsecutiveSuccesses,
		TotalFailures:        rec.TotalFailures,
		LastFailureAt:        rec.LastFailureAt,
		OpenedAt:             rec.OpenedAt,
		FailureThreshold:     rec.Config.FailureThreshold,
		SuccessThreshold:     rec.Config.SuccessThreshold,
		MaxErrorLog:          rec.Config.MaxErrorLog,
	}
	if rec.ErrorLog != nil {
		stored.LogSlots = rec.ErrorLog.Slots
		stored.LogHead = rec.ErrorLog.Head
		stored.LogSize = rec.ErrorLog.Size
	}
	return m.KVPut(circuitRecordKey, stored)
}
