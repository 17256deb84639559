package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/core/types"
)

const (
	TypeProgramInitialized     = "program.initialized"
	TypeProgramFundsLocked     = "program.funds_locked"
	TypeProgramPayout          = "program.payout"
	TypeProgramBatchPayout     = "program.batch_payout"
	TypeProgramScheduleCreated = "program.schedule_created"
	TypeProgramScheduleRelease = "program.schedule_released"
	TypeProgramFeeConfig       = "program.fee_config_updated"
	TypeProgramMultisigConfig  = "program.multisig_updated"
	TypeProgramPayoutApproved  = "program.payout_approved"
)

type ProgramInitialized struct {
	ProgramID string
	PayoutKey common.Address
	Timestamp uint64
}

func (ProgramInitialized) EventType() string { return TypeProgramInitialized }

func (e ProgramInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramInitialized,
		Attributes: map[string]string{
			"programId": e.ProgramID,
			"payoutKey": addressString(e.PayoutKey),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type ProgramFundsLocked struct {
	ProgramID string
	From      common.Address
	Amount    *big.Int
	Fee       *big.Int
	Remaining *big.Int
}

func (ProgramFundsLocked) EventType() string { return TypeProgramFundsLocked }

func (e ProgramFundsLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramFundsLocked,
		Attributes: map[string]string{
			"programId": e.ProgramID,
			"from":      addressString(e.From),
			"amount":    formatAmount(e.Amount),
			"fee":       formatAmount(e.Fee),
			"remaining": formatAmount(e.Remaining),
		},
	}
}

type ProgramPayout struct {
	ProgramID string
	Recipient common.Address
	Amount    *big.Int
	Fee       *big.Int
	Remaining *big.Int
	Timestamp uint64
}

func (ProgramPayout) EventType() string { return TypeProgramPayout }

func (e ProgramPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramPayout,
		Attributes: map[string]string{
			"programId": e.ProgramID,
			"recipient": addressString(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"fee":       formatAmount(e.Fee),
			"remaining": formatAmount(e.Remaining),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type ProgramBatchPayout struct {
	ProgramID  string
	Recipients uint64
	Total      *big.Int
	Remaining  *big.Int
}

func (ProgramBatchPayout) EventType() string { return TypeProgramBatchPayout }

func (e ProgramBatchPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramBatchPayout,
		Attributes: map[string]string{
			"programId":  e.ProgramID,
			"recipients": uintToString(e.Recipients),
			"total":      formatAmount(e.Total),
			"remaining":  formatAmount(e.Remaining),
		},
	}
}

type ScheduleCreated struct {
	ProgramID        string
	ScheduleID       uint64
	Recipient        common.Address
	Amount           *big.Int
	ReleaseTimestamp uint64
}

func (ScheduleCreated) EventType() string { return TypeProgramScheduleCreated }

func (e ScheduleCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramScheduleCreated,
		Attributes: map[string]string{
			"programId":        e.ProgramID,
			"scheduleId":       uintToString(e.ScheduleID),
			"recipient":        addressString(e.Recipient),
			"amount":           formatAmount(e.Amount),
			"releaseTimestamp": uintToString(e.ReleaseTimestamp),
		},
	}
}

type ScheduleReleased struct {
	ProgramID  string
	ScheduleID uint64
	Recipient  common.Address
	Amount     *big.Int
	Automatic  bool
	Timestamp  uint64
}

func (ScheduleReleased) EventType() string { return TypeProgramScheduleRelease }

func (e ScheduleReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramScheduleRelease,
		Attributes: map[string]string{
			"programId":  e.ProgramID,
			"scheduleId": uintToString(e.ScheduleID),
			"recipient":  addressString(e.Recipient),
			"amount":     formatAmount(e.Amount),
			"automatic":  boolToString(e.Automatic),
			"timestamp":  uintToString(e.Timestamp),
		},
	}
}

type FeeConfigUpdated struct {
	LockFeeRate   uint32
	PayoutFeeRate uint32
	Recipient     common.Address
	Enabled       bool
}

func (FeeConfigUpdated) EventType() string { return TypeProgramFeeConfig }

func (e FeeConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramFeeConfig,
		Attributes: map[string]string{
			"lockFeeRate":   uintToString(uint64(e.LockFeeRate)),
			"payoutFeeRate": uintToString(uint64(e.PayoutFeeRate)),
			"recipient":     addressString(e.Recipient),
			"enabled":       boolToString(e.Enabled),
		},
	}
}

type MultisigUpdated struct {
	ProgramID         string
	Threshold         *big.Int
	Signers           uint64
	RequiredApprovals uint32
}

func (MultisigUpdated) EventType() string { return TypeProgramMultisigConfig }

func (e MultisigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramMultisigConfig,
		Attributes: map[string]string{
			"programId":         e.ProgramID,
			"threshold":         formatAmount(e.Threshold),
			"signers":           uintToString(e.Signers),
			"requiredApprovals": uintToString(uint64(e.RequiredApprovals)),
		},
	}
}

type PayoutApproved struct {
	ProgramID string
	Recipient common.Address
	Amount    *big.Int
	Approver  common.Address
	Approvals uint32
}

func (PayoutApproved) EventType() string { return TypeProgramPayoutApproved }

func (e PayoutApproved) Event() *types.Event {
	return &types.Event{
		Type: TypeProgramPayoutApproved,
		Attributes: map[string]string{
			"programId": e.ProgramID,
			"recipient": addressString(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"approver":  addressString(e.Approver),
			"approvals": uintToString(uint64(e.Approvals)),
		},
	}
}
