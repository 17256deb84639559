package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

// AuthorizeClaim pre-authorises recipient to collect the remaining balance of
// a Locked escrow until now+window. A nil window uses the configured default.
// An existing claim blocks authorisation even after it expires; it has to be
// cancelled first.
func (e *Engine) AuthorizeClaim(id uint64, recipient common.Address, window *uint64) (*PendingClaim, error) {
	esc, err := e.loadLocked(id)
	if err != nil {
		return nil, err
	}
	existing, ok, err := e.state.ClaimGet(id)
	if err != nil {
		return nil, err
	}
	if ok && !existing.Claimed {
		return nil, escrowerr.ErrClaimPending.Wrapf("id %d", id)
	}
	var span uint64
	if window != nil {
		span = *window
	} else {
		span, err = e.ClaimWindow()
		if err != nil {
			return nil, err
		}
	}
	now := e.now()
	expires := now + span
	if expires < now {
		return nil, escrowerr.ErrInvalidDeadline.Wrapf("claim window overflows")
	}
	claim := &PendingClaim{
		BountyID:  id,
		Recipient: recipient,
		Amount:    cloneBigInt(esc.RemainingAmount),
		CreatedAt: now,
		ExpiresAt: expires,
	}
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	e.emit(events.ClaimAuthorized{BountyID: id, Recipient: recipient, Amount: claim.Amount, ExpiresAt: expires})
	return claim.Clone(), nil
}

// PendingClaim returns the claim attached to id.
func (e *Engine) PendingClaim(id uint64) (*PendingClaim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	claim, ok, err := e.state.ClaimGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerr.ErrClaimNotFound.Wrapf("id %d", id)
	}
	return claim, nil
}

// Claim executes a pending claim. Claiming exactly at ExpiresAt succeeds.
func (e *Engine) Claim(ctx context.Context, id uint64) (*PendingClaim, error) {
	settings, err := e.Settings()
	if err != nil {
		return nil, err
	}
	claim, err := e.PendingClaim(id)
	if err != nil {
		return nil, err
	}
	if claim.Claimed {
		return nil, escrowerr.ErrClaimAlreadyExecuted.Wrapf("id %d", id)
	}
	now := e.now()
	if claim.Expired(now) {
		return nil, escrowerr.ErrClaimExpired.Wrapf("expired at %d", claim.ExpiresAt)
	}
	esc, err := e.loadLocked(id)
	if err != nil {
		return nil, err
	}
	token, err := e.token(settings)
	if err != nil {
		return nil, err
	}
	payout := cloneBigInt(esc.RemainingAmount)
	if err := e.guard.Guard(bountyProgramID(id), "claim", func() error {
		return transferError(token.Transfer(ctx, e.vault, claim.Recipient, payout))
	}); err != nil {
		return nil, err
	}
	esc.RemainingAmount = big.NewInt(0)
	esc.Status = EscrowReleased
	if err := e.storeEscrow(esc); err != nil {
		e.compensate(ctx, token, []transferLeg{{from: e.vault, to: claim.Recipient, amount: payout}})
		return nil, err
	}
	claim.Claimed = true
	claim.Amount = payout
	if err := e.state.ClaimPut(claim); err != nil {
		return nil, err
	}
	e.emit(events.ClaimExecuted{BountyID: id, Recipient: claim.Recipient, Amount: payout, Timestamp: now})
	return claim.Clone(), nil
}

// CancelPendingClaim drops an unexecuted claim, expired or not. The escrow
// stays Locked.
func (e *Engine) CancelPendingClaim(id uint64) error {
	claim, err := e.PendingClaim(id)
	if err != nil {
		return err
	}
	if claim.Claimed {
		return escrowerr.ErrClaimAlreadyExecuted.Wrapf("id %d", id)
	}
	if err := e.state.ClaimDelete(id); err != nil {
		return err
	}
	e.emit(events.ClaimCancelled{BountyID: id, Recipient: claim.Recipient, Expired: claim.Expired(e.now())})
	return nil
}
