package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
)

// EscrowStatus represents the lifecycle states of a bounty escrow. Transitions
// only ever leave Locked.
type EscrowStatus uint8

const (
	EscrowLocked EscrowStatus = iota
	EscrowReleased
	EscrowRefunded
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowLocked, EscrowReleased, EscrowRefunded:
		return true
	default:
		return false
	}
}

func (s EscrowStatus) String() string {
	switch s {
	case EscrowLocked:
		return "locked"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Escrow is the custodial record for one bounty id.
type Escrow struct {
	ID              uint64
	Depositor       common.Address
	Amount          *big.Int
	RemainingAmount *big.Int
	Status          EscrowStatus
	Deadline        uint64
	CreatedAt       uint64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.RemainingAmount = cloneBigInt(e.RemainingAmount)
	return &clone
}

// SanitizeEscrow validates the bookkeeping invariants of a record before it is
// persisted.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow amount must be positive")
	}
	if clone.RemainingAmount.Sign() < 0 || clone.RemainingAmount.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("escrow remaining amount %s outside [0, %s]", clone.RemainingAmount, clone.Amount)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}

// PendingClaim is an administrator pre-authorised release that the recipient
// triggers within [CreatedAt, ExpiresAt].
type PendingClaim struct {
	BountyID  uint64
	Recipient common.Address
	Amount    *big.Int
	CreatedAt uint64
	ExpiresAt uint64
	Claimed   bool
}

func (c *PendingClaim) Clone() *PendingClaim {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Amount = cloneBigInt(c.Amount)
	return &clone
}

// Expired reports whether the claim can no longer be executed at now. The
// upper bound is inclusive.
func (c *PendingClaim) Expired(now uint64) bool {
	return c != nil && now > c.ExpiresAt
}

// RefundMode selects how much of the remaining balance a refund returns.
type RefundMode uint8

const (
	RefundFull RefundMode = iota
	RefundPartial
)

func (m RefundMode) Valid() bool {
	return m == RefundFull || m == RefundPartial
}

func (m RefundMode) String() string {
	switch m {
	case RefundFull:
		return "full"
	case RefundPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// RefundOptions carries the optional refund parameters. Amount is only read in
// partial mode; Recipient overrides the depositor.
type RefundOptions struct {
	Mode      RefundMode
	Amount    *big.Int
	Recipient *common.Address
}

// AmountPolicy bounds lock amounts inclusively.
type AmountPolicy struct {
	Min *big.Int
	Max *big.Int
}

func (p *AmountPolicy) Clone() *AmountPolicy {
	if p == nil {
		return nil
	}
	return &AmountPolicy{Min: cloneBigInt(p.Min), Max: cloneBigInt(p.Max)}
}

// Validate requires 0 < Min <= Max.
func (p *AmountPolicy) Validate() error {
	if p == nil || p.Min == nil || p.Max == nil {
		return escrowerr.ErrInvalidPolicy
	}
	if p.Min.Sign() <= 0 || p.Min.Cmp(p.Max) > 0 {
		return escrowerr.ErrInvalidPolicy.Wrapf("min %s max %s", p.Min, p.Max)
	}
	return nil
}

// Check validates amount against the policy. A nil policy accepts any
// positive amount.
func (p *AmountPolicy) Check(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return escrowerr.ErrInvalidAmount
	}
	if p == nil {
		return nil
	}
	if p.Min != nil && amount.Cmp(p.Min) < 0 {
		return escrowerr.ErrAmountBelowMinimum.Wrapf("%s < %s", amount, p.Min)
	}
	if p.Max != nil && amount.Cmp(p.Max) > 0 {
		return escrowerr.ErrAmountAboveMaximum.Wrapf("%s > %s", amount, p.Max)
	}
	return nil
}

// Settings is the contract-wide configuration written by Initialize and the
// administrative setters.
type Settings struct {
	Admin          common.Address
	Token          common.Address
	InitializedAt  uint64
	Policy         *AmountPolicy
	ClaimWindow    uint64
	HasClaimWindow bool
}

func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Policy = s.Policy.Clone()
	return &clone
}

// LockItem is one entry of a batch lock.
type LockItem struct {
	BountyID  uint64
	Depositor common.Address
	Amount    *big.Int
	Deadline  uint64
}

// ReleaseItem is one entry of a batch release.
type ReleaseItem struct {
	BountyID  uint64
	Recipient common.Address
}

// Token is the value-transfer primitive. Transfer must debit and credit
// atomically and fail when from holds less than amount.
type Token interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Balance(ctx context.Context, holder common.Address) (*big.Int, error)
}

// TokenResolver maps the token address recorded at initialisation to a
// transfer client.
type TokenResolver interface {
	Resolve(token common.Address) (Token, error)
}

// TokenResolverFunc adapts a function to TokenResolver.
type TokenResolverFunc func(token common.Address) (Token, error)

func (f TokenResolverFunc) Resolve(token common.Address) (Token, error) { return f(token) }

// StaticToken resolves every address to the same client.
func StaticToken(token Token) TokenResolver {
	return TokenResolverFunc(func(common.Address) (Token, error) { return token, nil })
}

// PayoutGuard wraps payout transfers, typically with a circuit breaker.
type PayoutGuard interface {
	Guard(programID, operation string, fn func() error) error
}

type passthroughGuard struct{}

func (passthroughGuard) Guard(_, _ string, fn func() error) error { return fn() }

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
