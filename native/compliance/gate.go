package compliance

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

var errNilStore = errors.New("compliance: store not configured")

// Store persists the participant lists. Implementations must treat absent
// entries as "not listed".
type Store interface {
	BlacklistGet(addr common.Address) (string, bool, error)
	BlacklistPut(addr common.Address, reason string) error
	BlacklistDelete(addr common.Address) error
	WhitelistGet(addr common.Address) (bool, error)
	WhitelistPut(addr common.Address, allowed bool) error
	WhitelistModeGet() (bool, error)
	WhitelistModePut(enabled bool) error
}

// Gate filters participants through the blacklist and, when whitelist mode is
// enabled, the whitelist. Authorization of the mutators is the caller's job.
type Gate struct {
	store   Store
	emitter events.Emitter
	nowFn   func() uint64
}

// NewGate builds a gate over the supplied store.
func NewGate(store Store) *Gate {
	return &Gate{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (g *Gate) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

// SetNowFunc overrides the clock used for event timestamps.
func (g *Gate) SetNowFunc(now func() uint64) {
	if now != nil {
		g.nowFn = now
	}
}

func (g *Gate) ready() error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	return nil
}

// AddToBlacklist lists addr with an optional reason. Re-listing overwrites the
// reason.
func (g *Gate) AddToBlacklist(addr common.Address, reason string) error {
	if err := g.ready(); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if err := g.store.BlacklistPut(addr, reason); err != nil {
		return err
	}
	g.emitter.Emit(events.ComplianceListChanged{Address: addr, Blacklist: true, Added: true, Reason: reason, Timestamp: g.nowFn()})
	return nil
}

// RemoveFromBlacklist delists addr. Removing an unlisted address is a no-op
// and emits nothing.
func (g *Gate) RemoveFromBlacklist(addr common.Address) error {
	if err := g.ready(); err != nil {
		return err
	}
	_, listed, err := g.store.BlacklistGet(addr)
	if err != nil || !listed {
		return err
	}
	if err := g.store.BlacklistDelete(addr); err != nil {
		return err
	}
	g.emitter.Emit(events.ComplianceListChanged{Address: addr, Blacklist: true, Added: false, Timestamp: g.nowFn()})
	return nil
}

func (g *Gate) AddToWhitelist(addr common.Address) error {
	return g.setWhitelisted(addr, true)
}

func (g *Gate) RemoveFromWhitelist(addr common.Address) error {
	return g.setWhitelisted(addr, false)
}

func (g *Gate) setWhitelisted(addr common.Address, allowed bool) error {
	if err := g.ready(); err != nil {
		return err
	}
	current, err := g.store.WhitelistGet(addr)
	if err != nil {
		return err
	}
	if current == allowed {
		return nil
	}
	if err := g.store.WhitelistPut(addr, allowed); err != nil {
		return err
	}
	g.emitter.Emit(events.ComplianceListChanged{Address: addr, Added: allowed, Timestamp: g.nowFn()})
	return nil
}

// SetWhitelistMode toggles whitelist enforcement.
func (g *Gate) SetWhitelistMode(enabled bool) error {
	if err := g.ready(); err != nil {
		return err
	}
	if err := g.store.WhitelistModePut(enabled); err != nil {
		return err
	}
	g.emitter.Emit(events.WhitelistModeChanged{Enabled: enabled, Timestamp: g.nowFn()})
	return nil
}

func (g *Gate) IsBlacklisted(addr common.Address) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	_, listed, err := g.store.BlacklistGet(addr)
	return listed, err
}

// BlacklistReason returns the recorded reason for a listed address.
func (g *Gate) BlacklistReason(addr common.Address) (string, bool, error) {
	if err := g.ready(); err != nil {
		return "", false, err
	}
	return g.store.BlacklistGet(addr)
}

func (g *Gate) IsWhitelisted(addr common.Address) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	return g.store.WhitelistGet(addr)
}

func (g *Gate) WhitelistMode() (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	return g.store.WhitelistModeGet()
}

// IsParticipantAllowed applies the eligibility rule: the blacklist always
// wins, then whitelist mode requires explicit membership.
func (g *Gate) IsParticipantAllowed(addr common.Address) (bool, error) {
	blacklisted, err := g.IsBlacklisted(addr)
	if err != nil {
		return false, err
	}
	if blacklisted {
		return false, nil
	}
	mode, err := g.WhitelistMode()
	if err != nil {
		return false, err
	}
	if !mode {
		return true, nil
	}
	return g.IsWhitelisted(addr)
}

// Require fails with ParticipantNotAllowed for the first ineligible address.
func (g *Gate) Require(addrs ...common.Address) error {
	for _, addr := range addrs {
		allowed, err := g.IsParticipantAllowed(addr)
		if err != nil {
			return err
		}
		if !allowed {
			return escrowerr.ErrParticipantNotAllowed.Wrapf("%s", addr.Hex())
		}
	}
	return nil
}
