package program

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
)

const (
	// MaxFeeRate caps lock and payout fees at 10%.
	MaxFeeRate uint32 = 1000
	// BasisPoints is the fee rate denominator.
	BasisPoints = 10_000
	// MaxBatchSize bounds batch payouts.
	MaxBatchSize = 100
)

// PayoutRecord is one entry of a program's payout history.
type PayoutRecord struct {
	Recipient common.Address
	Amount    *big.Int
	Fee       *big.Int
	Timestamp uint64
}

// Program is a pooled escrow paid out by a designated key.
type Program struct {
	ID               string
	PayoutKey        common.Address
	TotalFunds       *big.Int
	RemainingBalance *big.Int
	CreatedAt        uint64
	Payouts          []PayoutRecord
}

func (p *Program) Clone() *Program {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalFunds = cloneBigInt(p.TotalFunds)
	clone.RemainingBalance = cloneBigInt(p.RemainingBalance)
	clone.Payouts = make([]PayoutRecord, len(p.Payouts))
	for i, rec := range p.Payouts {
		rec.Amount = cloneBigInt(rec.Amount)
		rec.Fee = cloneBigInt(rec.Fee)
		clone.Payouts[i] = rec
	}
	return &clone
}

// FeeConfig holds the fee rates in basis points. Fees are only charged while
// Enabled is set.
type FeeConfig struct {
	LockFeeRate   uint32
	PayoutFeeRate uint32
	Recipient     common.Address
	Enabled       bool
}

func (c FeeConfig) Validate() error {
	if c.LockFeeRate > MaxFeeRate {
		return escrowerr.ErrInvalidFeeRate.Wrapf("lock rate %d above %d", c.LockFeeRate, MaxFeeRate)
	}
	if c.PayoutFeeRate > MaxFeeRate {
		return escrowerr.ErrInvalidFeeRate.Wrapf("payout rate %d above %d", c.PayoutFeeRate, MaxFeeRate)
	}
	return nil
}

func (c FeeConfig) fee(amount *big.Int, rate uint32) *big.Int {
	if !c.Enabled || rate == 0 || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(rate)))
	return fee.Quo(fee, big.NewInt(BasisPoints))
}

// MultisigConfig requires RequiredApprovals signer approvals for payouts of
// at least Threshold. A nil threshold disables the requirement.
type MultisigConfig struct {
	Threshold         *big.Int
	Signers           []common.Address
	RequiredApprovals uint32
}

func (c *MultisigConfig) Clone() *MultisigConfig {
	if c == nil {
		return nil
	}
	return &MultisigConfig{
		Threshold:         cloneOptional(c.Threshold),
		Signers:           append([]common.Address(nil), c.Signers...),
		RequiredApprovals: c.RequiredApprovals,
	}
}

func (c *MultisigConfig) requires(amount *big.Int) bool {
	return c != nil && c.Threshold != nil && c.RequiredApprovals > 0 && amount.Cmp(c.Threshold) >= 0
}

func (c *MultisigConfig) isSigner(addr common.Address) bool {
	if c == nil {
		return false
	}
	for _, signer := range c.Signers {
		if signer == addr {
			return true
		}
	}
	return false
}

// Approval collects signer approvals for one large payout.
type Approval struct {
	ProgramID string
	Recipient common.Address
	Amount    *big.Int
	Approvers []common.Address
}

func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Amount = cloneBigInt(a.Amount)
	clone.Approvers = append([]common.Address(nil), a.Approvers...)
	return &clone
}

// ReleaseType records how a schedule was released.
type ReleaseType uint8

const (
	ReleaseManual ReleaseType = iota
	ReleaseAutomatic
)

func (t ReleaseType) String() string {
	if t == ReleaseAutomatic {
		return "automatic"
	}
	return "manual"
}

// Schedule is a timed payout reserved against a program's balance.
type Schedule struct {
	ID         uint64
	ProgramID  string
	Recipient  common.Address
	Amount     *big.Int
	ReleaseAt  uint64
	Released   bool
	ReleasedAt uint64
	ReleasedBy common.Address
}

func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Amount = cloneBigInt(s.Amount)
	return &clone
}

// Due reports whether the schedule can be released automatically at now.
func (s *Schedule) Due(now uint64) bool {
	return s != nil && !s.Released && s.ReleaseAt <= now
}

// ReleaseRecord is one entry of a program's schedule release history.
type ReleaseRecord struct {
	ScheduleID uint64
	ProgramID  string
	Recipient  common.Address
	Amount     *big.Int
	Fee        *big.Int
	ReleasedAt uint64
	Type       ReleaseType
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneOptional(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
