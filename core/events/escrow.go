package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/core/types"
)

const (
	TypeEscrowInitialized     = "escrow.initialized"
	TypeEscrowFundsLocked     = "escrow.funds_locked"
	TypeEscrowFundsReleased   = "escrow.funds_released"
	TypeEscrowFundsRefunded   = "escrow.funds_refunded"
	TypeEscrowClaimAuthorized = "escrow.claim_authorized"
	TypeEscrowClaimExecuted   = "escrow.claim_executed"
	TypeEscrowClaimCancelled  = "escrow.claim_cancelled"
	TypeEscrowBatchLocked     = "escrow.batch_locked"
	TypeEscrowBatchReleased   = "escrow.batch_released"
	TypeEscrowPolicyUpdated   = "escrow.policy_updated"
	TypeEscrowClaimWindow     = "escrow.claim_window_updated"
)

type EscrowInitialized struct {
	Admin     common.Address
	Token     common.Address
	Timestamp uint64
}

func (EscrowInitialized) EventType() string { return TypeEscrowInitialized }

func (e EscrowInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowInitialized,
		Attributes: map[string]string{
			"admin":     addressString(e.Admin),
			"token":     addressString(e.Token),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type FundsLocked struct {
	BountyID  uint64
	Depositor common.Address
	Amount    *big.Int
	Deadline  uint64
}

func (FundsLocked) EventType() string { return TypeEscrowFundsLocked }

func (e FundsLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowFundsLocked,
		Attributes: map[string]string{
			"bountyId":  uintToString(e.BountyID),
			"depositor": addressString(e.Depositor),
			"amount":    formatAmount(e.Amount),
			"deadline":  uintToString(e.Deadline),
		},
	}
}

type FundsReleased struct {
	BountyID  uint64
	Recipient common.Address
	Amount    *big.Int
	Timestamp uint64
}

func (FundsReleased) EventType() string { return TypeEscrowFundsReleased }

func (e FundsReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowFundsReleased,
		Attributes: map[string]string{
			"bountyId":  uintToString(e.BountyID),
			"recipient": addressString(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

// FundsRefunded reports a full or partial refund. Remaining is the balance
// still held for the bounty after the refund.
type FundsRefunded struct {
	BountyID  uint64
	Recipient common.Address
	Amount    *big.Int
	Remaining *big.Int
	Mode      string
	Timestamp uint64
}

func (FundsRefunded) EventType() string { return TypeEscrowFundsRefunded }

func (e FundsRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowFundsRefunded,
		Attributes: map[string]string{
			"bountyId":  uintToString(e.BountyID),
			"recipient": addressString(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"remaining": formatAmount(e.Remaining),
			"mode":      e.Mode,
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type ClaimAuthorized struct {
	BountyID  uint64
	Recipient common.Address
	Amount    *big.Int
	ExpiresAt uint64
}

func (ClaimAuthorized) EventType() string { return TypeEscrowClaimAuthorized }

func (e ClaimAuthorized) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowClaimAuthorized,
		Attributes: map[string]string{
			"bountyId":  uintToString(e.BountyID),
			"recipient": addressString(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"expiresAt": uintToString(e.ExpiresAt),
		},
	}
}

type ClaimExecuted struct {
	BountyID  uint64
	Recipient common.Address
	Amount    *big.Int
	Timestamp uint64
}

func (ClaimExecuted) EventType() string { return TypeEscrowClaimExecuted }

func (e ClaimExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowClaimExecuted,
		Attributes: map[string]string{
			"bountyId":  uintToString(e.BountyID),
			"recipient": addressString(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type ClaimCancelled struct {
	BountyID  uint64
	Recipient common.Address
	Expired   bool
}

func (ClaimCancelled) EventType() string { return TypeEscrowClaimCancelled }

func (e ClaimCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowClaimCancelled,
		Attributes: map[string]string{
			"bountyId":  uintToString(e.BountyID),
			"recipient": addressString(e.Recipient),
			"expired":   boolToString(e.Expired),
		},
	}
}

// BatchSummary is emitted once per successful batch operation.
type BatchSummary struct {
	Released bool
	Count    uint64
	Total    *big.Int
}

func (e BatchSummary) EventType() string {
	if e.Released {
		return TypeEscrowBatchReleased
	}
	return TypeEscrowBatchLocked
}

func (e BatchSummary) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"count": uintToString(e.Count),
			"total": formatAmount(e.Total),
		},
	}
}

type AmountPolicyUpdated struct {
	Min *big.Int
	Max *big.Int
}

func (AmountPolicyUpdated) EventType() string { return TypeEscrowPolicyUpdated }

func (e AmountPolicyUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowPolicyUpdated,
		Attributes: map[string]string{
			"min": formatAmount(e.Min),
			"max": formatAmount(e.Max),
		},
	}
}

type ClaimWindowUpdated struct {
	Window uint64
}

func (ClaimWindowUpdated) EventType() string { return TypeEscrowClaimWindow }

func (e ClaimWindowUpdated) Event() *types.Event {
	return &types.Event{
		Type:       TypeEscrowClaimWindow,
		Attributes: map[string]string{"window": uintToString(e.Window)},
	}
}
