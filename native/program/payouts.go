package program

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

type payoutItem struct {
	recipient common.Address
	amount    *big.Int
}

// SinglePayout pays amount to recipient from the program balance.
func (e *Engine) SinglePayout(ctx context.Context, id string, recipient common.Address, amount *big.Int) (*Program, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, escrowerr.ErrInvalidAmount
	}
	items := []payoutItem{{recipient: recipient, amount: cloneBigInt(amount)}}
	records, err := e.payout(ctx, prog, items, "single_payout")
	if err != nil {
		return nil, err
	}
	rec := records[0]
	e.emit(events.ProgramPayout{
		ProgramID: prog.ID,
		Recipient: recipient,
		Amount:    rec.Amount,
		Fee:       rec.Fee,
		Remaining: cloneBigInt(prog.RemainingBalance),
		Timestamp: rec.Timestamp,
	})
	return prog.Clone(), nil
}

// BatchPayout pays every recipient its amount, or nobody.
func (e *Engine) BatchPayout(ctx context.Context, id string, recipients []common.Address, amounts []*big.Int) (*Program, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	if len(recipients) != len(amounts) {
		return nil, escrowerr.ErrBatchSizeMismatch.Wrapf("%d recipients, %d amounts", len(recipients), len(amounts))
	}
	if len(recipients) == 0 || len(recipients) > MaxBatchSize {
		return nil, escrowerr.ErrInvalidBatchSize.Wrapf("size %d not within 1..%d", len(recipients), MaxBatchSize)
	}
	items := make([]payoutItem, len(recipients))
	for i, recipient := range recipients {
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return nil, escrowerr.ErrInvalidAmount.Wrapf("item %d", i)
		}
		items[i] = payoutItem{recipient: recipient, amount: cloneBigInt(amounts[i])}
	}
	records, err := e.payout(ctx, prog, items, "batch_payout")
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, rec := range records {
		total.Add(total, rec.Amount)
		e.emit(events.ProgramPayout{
			ProgramID: prog.ID,
			Recipient: rec.Recipient,
			Amount:    rec.Amount,
			Fee:       rec.Fee,
			Remaining: cloneBigInt(prog.RemainingBalance),
			Timestamp: rec.Timestamp,
		})
	}
	e.emit(events.ProgramBatchPayout{
		ProgramID:  prog.ID,
		Recipients: uint64(len(records)),
		Total:      total,
		Remaining:  cloneBigInt(prog.RemainingBalance),
	})
	return prog.Clone(), nil
}

// payout validates the balance and approvals, runs the transfers behind the
// payout guard and persists the debited program. prog is updated in place.
func (e *Engine) payout(ctx context.Context, prog *Program, items []payoutItem, operation string) ([]PayoutRecord, error) {
	total := big.NewInt(0)
	for _, item := range items {
		total.Add(total, item.amount)
	}
	if total.Cmp(prog.RemainingBalance) > 0 {
		return nil, escrowerr.ErrInsufficientBalance.Wrapf("payout %s exceeds remaining %s", total, prog.RemainingBalance)
	}
	multisig, err := e.Multisig(prog.ID)
	if err != nil {
		return nil, err
	}
	var consumed []common.Address
	for _, item := range items {
		if !multisig.requires(item.amount) {
			continue
		}
		if err := e.checkApproval(prog.ID, item, multisig); err != nil {
			return nil, err
		}
		consumed = append(consumed, item.recipient)
	}
	fees, err := e.FeeConfig()
	if err != nil {
		return nil, err
	}

	now := e.now()
	records := make([]PayoutRecord, 0, len(items))
	legs := make([]transferLeg, 0, len(items)*2)
	if err := e.guard.Guard(programGuardID(prog.ID), operation, func() error {
		for _, item := range items {
			fee := fees.fee(item.amount, fees.PayoutFeeRate)
			net := new(big.Int).Sub(item.amount, fee)
			if err := e.token.Transfer(ctx, e.vault, item.recipient, net); err != nil {
				e.compensate(ctx, legs)
				return transferError(err)
			}
			legs = append(legs, transferLeg{from: e.vault, to: item.recipient, amount: net})
			if fee.Sign() > 0 {
				if err := e.token.Transfer(ctx, e.vault, fees.Recipient, fee); err != nil {
					e.compensate(ctx, legs)
					return transferError(err)
				}
				legs = append(legs, transferLeg{from: e.vault, to: fees.Recipient, amount: fee})
			}
			records = append(records, PayoutRecord{Recipient: item.recipient, Amount: item.amount, Fee: fee, Timestamp: now})
		}
		return nil
	}); err != nil {
		return nil, err
	}

	prog.RemainingBalance = new(big.Int).Sub(prog.RemainingBalance, total)
	prog.Payouts = append(prog.Payouts, records...)
	if err := e.state.ProgramPut(prog); err != nil {
		e.compensate(ctx, legs)
		return nil, err
	}
	for _, recipient := range consumed {
		if err := e.state.ApprovalDelete(prog.ID, recipient); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (e *Engine) checkApproval(id string, item payoutItem, cfg *MultisigConfig) error {
	approval, ok, err := e.state.ApprovalGet(id, item.recipient)
	if err != nil {
		return err
	}
	if !ok || approval.Amount.Cmp(item.amount) != 0 {
		return escrowerr.ErrApprovalRequired.Wrapf("payout of %s to %s needs %d approvals", item.amount, item.recipient.Hex(), cfg.RequiredApprovals)
	}
	if uint32(len(approval.Approvers)) < cfg.RequiredApprovals {
		return escrowerr.ErrApprovalRequired.Wrapf("%d of %d approvals", len(approval.Approvers), cfg.RequiredApprovals)
	}
	return nil
}

// Multisig returns the approval requirements of the program. Programs without
// a configuration never need approvals.
func (e *Engine) Multisig(id string) (*MultisigConfig, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	cfg, ok, err := e.state.MultisigGet(prog.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &MultisigConfig{}, nil
	}
	return cfg, nil
}

// UpdateMultisigConfig replaces the approval requirements of the program.
func (e *Engine) UpdateMultisigConfig(id string, threshold *big.Int, signers []common.Address, required uint32) error {
	prog, err := e.Program(id)
	if err != nil {
		return err
	}
	unique := dedupe(signers)
	if int(required) > len(unique) {
		return escrowerr.ErrInvalidConfig.Wrapf("%d approvals required from %d signers", required, len(unique))
	}
	if threshold != nil && threshold.Sign() <= 0 {
		return escrowerr.ErrInvalidConfig.Wrapf("threshold must be positive")
	}
	cfg := &MultisigConfig{Threshold: cloneOptional(threshold), Signers: unique, RequiredApprovals: required}
	if err := e.state.MultisigPut(prog.ID, cfg); err != nil {
		return err
	}
	e.emit(events.MultisigUpdated{
		ProgramID:         prog.ID,
		Threshold:         cfg.Threshold,
		Signers:           uint64(len(cfg.Signers)),
		RequiredApprovals: required,
	})
	return nil
}

// ApproveLargePayout records approver's consent to pay amount to recipient.
// Approving a different amount restarts collection. Repeated approvals by the
// same signer are ignored. It returns the number of approvals collected.
func (e *Engine) ApproveLargePayout(id string, recipient common.Address, amount *big.Int, approver common.Address) (int, error) {
	cfg, err := e.Multisig(id)
	if err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, escrowerr.ErrInvalidAmount
	}
	if !cfg.isSigner(approver) {
		return 0, escrowerr.ErrUnauthorized.Wrapf("%s is not a signer of %q", approver.Hex(), id)
	}
	prog, err := e.Program(id)
	if err != nil {
		return 0, err
	}
	approval, ok, err := e.state.ApprovalGet(prog.ID, recipient)
	if err != nil {
		return 0, err
	}
	if !ok || approval.Amount.Cmp(amount) != 0 {
		approval = &Approval{ProgramID: prog.ID, Recipient: recipient, Amount: cloneBigInt(amount)}
	}
	for _, existing := range approval.Approvers {
		if existing == approver {
			return len(approval.Approvers), nil
		}
	}
	approval.Approvers = append(approval.Approvers, approver)
	if err := e.state.ApprovalPut(approval); err != nil {
		return 0, err
	}
	e.emit(events.PayoutApproved{
		ProgramID: prog.ID,
		Recipient: recipient,
		Amount:    approval.Amount,
		Approver:  approver,
		Approvals: uint32(len(approval.Approvers)),
	})
	return len(approval.Approvers), nil
}

// Approvals returns the pending approval for a payout to recipient, if any.
func (e *Engine) Approvals(id string, recipient common.Address) (*Approval, bool, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, false, err
	}
	return e.state.ApprovalGet(prog.ID, recipient)
}

func dedupe(addrs []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
