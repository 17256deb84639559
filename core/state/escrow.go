package state

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/escrow"
)

var (
	escrowRecordPrefix = []byte("escrow/record/")
	escrowClaimPrefix  = []byte("escrow/claim/")
	escrowSettingsKey  = []byte("escrow/settings")
)

func escrowRecordKey(id uint64) []byte {
	return append(append([]byte(nil), escrowRecordPrefix...), strconv.FormatUint(id, 10)...)
}

func escrowClaimKey(id uint64) []byte {
	return append(append([]byte(nil), escrowClaimPrefix...), strconv.FormatUint(id, 10)...)
}

type storedEscrow struct {
	ID              uint64
	Depositor       common.Address
	Amount          *big.Int
	RemainingAmount *big.Int
	Status          uint8
	Deadline        uint64
	CreatedAt       uint64
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:              e.ID,
		Depositor:       e.Depositor,
		Amount:          amountOrZero(e.Amount),
		RemainingAmount: amountOrZero(e.RemainingAmount),
		Status:          uint8(e.Status),
		Deadline:        e.Deadline,
		CreatedAt:       e.CreatedAt,
	}
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	return &escrow.Escrow{
		ID:              s.ID,
		Depositor:       s.Depositor,
		Amount:          amountOrZero(s.Amount),
		RemainingAmount: amountOrZero(s.RemainingAmount),
		Status:          escrow.EscrowStatus(s.Status),
		Deadline:        s.Deadline,
		CreatedAt:       s.CreatedAt,
	}
}

type storedClaim struct {
	BountyID  uint64
	Recipient common.Address
	Amount    *big.Int
	CreatedAt uint64
	ExpiresAt uint64
	Claimed   bool
}

type storedEscrowSettings struct {
	Admin          common.Address
	Token          common.Address
	InitializedAt  uint64
	HasPolicy      bool
	PolicyMin      *big.Int
	PolicyMax      *big.Int
	ClaimWindow    uint64
	HasClaimWindow bool
}

// EscrowGet loads a bounty escrow record.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.KVGet(escrowRecordKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toEscrow(), true, nil
}

// EscrowPut persists a bounty escrow record after validating it.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	return m.KVPut(escrowRecordKey(sanitized.ID), newStoredEscrow(sanitized))
}

// EscrowDelete removes a bounty escrow record. Missing records are ignored.
func (m *Manager) EscrowDelete(id uint64) error {
	return m.KVDelete(escrowRecordKey(id))
}

// ClaimGet loads the pending claim of a bounty.
func (m *Manager) ClaimGet(id uint64) (*escrow.PendingClaim, bool, error) {
	var stored storedClaim
	ok, err := m.KVGet(escrowClaimKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &escrow.PendingClaim{
		BountyID:  stored.BountyID,
		Recipient: stored.Recipient,
		Amount:    amountOrZero(stored.Amount),
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
		Claimed:   stored.Claimed,
	}, true, nil
}

// ClaimPut persists the pending claim of a bounty.
func (m *Manager) ClaimPut(c *escrow.PendingClaim) error {
	if c == nil {
		return fmt.Errorf("state: nil claim")
	}
	return m.KVPut(escrowClaimKey(c.BountyID), &storedClaim{
		BountyID:  c.BountyID,
		Recipient: c.Recipient,
		Amount:    amountOrZero(c.Amount),
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
		Claimed:   c.Claimed,
	})
}

// ClaimDelete removes the pending claim of a bounty.
func (m *Manager) ClaimDelete(id uint64) error {
	return m.KVDelete(escrowClaimKey(id))
}

// EscrowSettingsGet loads the contract settings written at initialisation.
func (m *Manager) EscrowSettingsGet() (*escrow.Settings, bool, error) {
	var stored storedEscrowSettings
	ok, err := m.KVGet(escrowSettingsKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	settings := &escrow.Settings{
		Admin:          stored.Admin,
		Token:          stored.Token,
		InitializedAt:  stored.InitializedAt,
		ClaimWindow:    stored.ClaimWindow,
		HasClaimWindow: stored.HasClaimWindow,
	}
	if stored.HasPolicy {
		settings.Policy = &escrow.AmountPolicy{Min: amountOrZero(stored.PolicyMin), Max: amountOrZero(stored.PolicyMax)}
	}
	return settings, true, nil
}

// EscrowSettingsPut persists the contract settings.
func (m *Manager) EscrowSettingsPut(s *escrow.Settings) error {
	if s == nil {
		return fmt.Errorf("state: nil settings")
	}
	stored := &storedEscrowSettings{
		Admin:          s.Admin,
		Token:          s.Token,
		InitializedAt:  s.InitializedAt,
		PolicyMin:      big.NewInt(0),
		PolicyMax:      big.NewInt(0),
		ClaimWindow:    s.ClaimWindow,
		HasClaimWindow: s.HasClaimWindow,
	}
	if s.Policy != nil {
		stored.HasPolicy = true
		stored.PolicyMin = amountOrZero(s.Policy.Min)
		stored.PolicyMax = amountOrZero(s.Policy.Max)
	}
	return m.KVPut(escrowSettingsKey, stored)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
