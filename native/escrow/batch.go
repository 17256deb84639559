package escrow

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

func checkBatchSize(n int) error {
	if n == 0 || n > MaxBatchSize {
		return escrowerr.ErrInvalidBatchSize.Wrapf("size %d not within 1..%d", n, MaxBatchSize)
	}
	return nil
}

// BatchLock locks every item or none. All items are validated, including the
// depositors' balances, before the first transfer; a transfer or record write
// that still fails during commit reverses the transfers already made and
// removes the records already written.
func (e *Engine) BatchLock(ctx context.Context, items []LockItem) (int, error) {
	if err := checkBatchSize(len(items)); err != nil {
		return 0, err
	}
	settings, err := e.Settings()
	if err != nil {
		return 0, err
	}
	seen := make(map[uint64]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.BountyID]; dup {
			return 0, escrowerr.ErrDuplicateBountyID.Wrapf("id %d", item.BountyID)
		}
		seen[item.BountyID] = struct{}{}
	}
	now := e.now()
	totals := make(map[common.Address]*big.Int)
	var order []common.Address
	for _, item := range items {
		if err := e.ensureAbsent(item.BountyID); err != nil {
			return 0, err
		}
		if err := validateLock(settings, item.Amount, item.Deadline, now); err != nil {
			return 0, err
		}
		total, ok := totals[item.Depositor]
		if !ok {
			total = big.NewInt(0)
			totals[item.Depositor] = total
			order = append(order, item.Depositor)
		}
		total.Add(total, item.Amount)
	}
	token, err := e.token(settings)
	if err != nil {
		return 0, err
	}
	for _, depositor := range order {
		balance, err := token.Balance(ctx, depositor)
		if err != nil {
			return 0, err
		}
		if balance.Cmp(totals[depositor]) < 0 {
			return 0, escrowerr.ErrInsufficientBalance.Wrapf("%s holds %s, batch needs %s", depositor.Hex(), balance, totals[depositor])
		}
	}

	legs := make([]transferLeg, 0, len(items))
	for _, item := range items {
		amt := cloneBigInt(item.Amount)
		if err := token.Transfer(ctx, item.Depositor, e.vault, amt); err != nil {
			e.compensate(ctx, token, legs)
			return 0, transferError(err)
		}
		legs = append(legs, transferLeg{from: item.Depositor, to: e.vault, amount: amt})
	}
	total := big.NewInt(0)
	for i, item := range items {
		esc := &Escrow{
			ID:              item.BountyID,
			Depositor:       item.Depositor,
			Amount:          legs[i].amount,
			RemainingAmount: cloneBigInt(legs[i].amount),
			Status:          EscrowLocked,
			Deadline:        item.Deadline,
			CreatedAt:       now,
		}
		if err := e.storeEscrow(esc); err != nil {
			e.discardEscrows(items[:i])
			e.compensate(ctx, token, legs)
			return 0, err
		}
		total.Add(total, esc.Amount)
	}
	for i, item := range items {
		e.emit(events.FundsLocked{BountyID: item.BountyID, Depositor: item.Depositor, Amount: legs[i].amount, Deadline: item.Deadline})
	}
	e.emit(events.BatchSummary{Count: uint64(len(items)), Total: total})
	return len(items), nil
}

// BatchRelease releases every item or none. The transfers run behind the
// payout guard as a single operation.
func (e *Engine) BatchRelease(ctx context.Context, items []ReleaseItem) (int, error) {
	if err := checkBatchSize(len(items)); err != nil {
		return 0, err
	}
	settings, err := e.Settings()
	if err != nil {
		return 0, err
	}
	seen := make(map[uint64]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.BountyID]; dup {
			return 0, escrowerr.ErrDuplicateBountyID.Wrapf("id %d", item.BountyID)
		}
		seen[item.BountyID] = struct{}{}
	}
	records := make([]*Escrow, len(items))
	originals := make([]*Escrow, 0, len(items))
	for i, item := range items {
		esc, err := e.loadLocked(item.BountyID)
		if err != nil {
			return 0, err
		}
		records[i] = esc
	}
	token, err := e.token(settings)
	if err != nil {
		return 0, err
	}
	legs := make([]transferLeg, 0, len(items))
	if err := e.guard.Guard("bounty:batch", "batch_release", func() error {
		for i, item := range items {
			amt := cloneBigInt(records[i].RemainingAmount)
			if err := token.Transfer(ctx, e.vault, item.Recipient, amt); err != nil {
				e.compensate(ctx, token, legs)
				return transferError(err)
			}
			legs = append(legs, transferLeg{from: e.vault, to: item.Recipient, amount: amt})
		}
		return nil
	}); err != nil {
		return 0, err
	}
	now := e.now()
	total := big.NewInt(0)
	for i, esc := range records {
		original := esc.Clone()
		esc.RemainingAmount = big.NewInt(0)
		esc.Status = EscrowReleased
		if err := e.storeEscrow(esc); err != nil {
			e.restoreEscrows(originals)
			e.compensate(ctx, token, legs)
			return 0, err
		}
		originals = append(originals, original)
		total.Add(total, legs[i].amount)
	}
	for _, esc := range records {
		if err := e.dropPendingClaim(esc.ID); err != nil {
			return 0, err
		}
	}
	for i, item := range items {
		e.emit(events.FundsReleased{BountyID: item.BountyID, Recipient: item.Recipient, Amount: legs[i].amount, Timestamp: now})
	}
	e.emit(events.BatchSummary{Released: true, Count: uint64(len(items)), Total: total})
	return len(items), nil
}

// discardEscrows removes records written by a batch that failed part way.
func (e *Engine) discardEscrows(items []LockItem) {
	for _, item := range items {
		if err := e.state.EscrowDelete(item.BountyID); err != nil {
			e.logger.Error("escrow record rollback failed",
				slog.Uint64("bounty_id", item.BountyID),
				slog.Any("error", err))
		}
	}
}

// restoreEscrows writes back the Locked records of a batch release that failed
// part way.
func (e *Engine) restoreEscrows(records []*Escrow) {
	for _, esc := range records {
		if err := e.state.EscrowPut(esc); err != nil {
			e.logger.Error("escrow record rollback failed",
				slog.Uint64("bounty_id", esc.ID),
				slog.Any("error", err))
		}
	}
}
