package escrow

import (
	"context"
	"math/big"
	"testing"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

func lockItems(ids ...uint64) []LockItem {
	items := make([]LockItem, len(ids))
	for i, id := range ids {
		items[i] = LockItem{BountyID: id, Depositor: testDepositor, Amount: big.NewInt(100), Deadline: 5_000}
	}
	return items
}

func TestBatchLockAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.lock(t, 2, 100, 5_000)
	transfers := env.token.transfers

	_, err := env.engine.BatchLock(ctx, lockItems(1, 2, 3))
	requireCode(t, err, escrowerr.CodeBountyExists)
	if _, ok := env.state.escrows[1]; ok {
		t.Fatalf("partial batch persisted")
	}
	if env.token.transfers != transfers {
		t.Fatalf("rejected batch moved funds")
	}

	_, err = env.engine.BatchLock(ctx, lockItems(4, 5, 4))
	requireCode(t, err, escrowerr.CodeDuplicateBountyID)

	n, err := env.engine.BatchLock(ctx, lockItems(4, 5, 6))
	if err != nil {
		t.Fatalf("batch lock: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 locked, got %d", n)
	}
	for _, id := range []uint64{4, 5, 6} {
		esc, err := env.engine.Get(id)
		if err != nil || esc.Status != EscrowLocked {
			t.Fatalf("escrow %d not locked: %v", id, err)
		}
	}
	last := env.events.Events()
	summary, ok := last[len(last)-1].(events.BatchSummary)
	if !ok || summary.Count != 3 || summary.Total.Int64() != 300 || summary.Released {
		t.Fatalf("unexpected batch summary %+v", last[len(last)-1])
	}
}

func TestBatchSizeBounds(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.BatchLock(context.Background(), nil)
	requireCode(t, err, escrowerr.CodeInvalidBatchSize)

	ids := make([]uint64, MaxBatchSize+1)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	_, err = env.engine.BatchLock(context.Background(), lockItems(ids...))
	requireCode(t, err, escrowerr.CodeInvalidBatchSize)

	_, err = env.engine.BatchRelease(context.Background(), nil)
	requireCode(t, err, escrowerr.CodeInvalidBatchSize)
}

func TestBatchLockBalancePrecheck(t *testing.T) {
	env := newTestEnv(t)
	poor := newTestAddress(0x55)
	env.token.mint(poor, 150)
	items := []LockItem{
		{BountyID: 1, Depositor: poor, Amount: big.NewInt(100), Deadline: 5_000},
		{BountyID: 2, Depositor: poor, Amount: big.NewInt(100), Deadline: 5_000},
	}
	_, err := env.engine.BatchLock(context.Background(), items)
	requireCode(t, err, escrowerr.CodeInsufficientBalance)
	if env.token.balance(poor).Int64() != 150 {
		t.Fatalf("precheck failure moved funds")
	}
}

func TestBatchLockCompensatesFailedTransfer(t *testing.T) {
	env := newTestEnv(t)
	other := newTestAddress(0x66)
	env.token.mint(other, 1_000)
	before := env.token.balance(testDepositor).Int64()
	items := []LockItem{
		{BountyID: 1, Depositor: testDepositor, Amount: big.NewInt(100), Deadline: 5_000},
		{BountyID: 2, Depositor: other, Amount: big.NewInt(100), Deadline: 5_000},
	}
	env.token.failFrom = &other
	_, err := env.engine.BatchLock(context.Background(), items)
	requireCode(t, err, escrowerr.CodeTransferFailed)
	env.token.failFrom = nil
	if env.token.balance(testDepositor).Int64() != before {
		t.Fatalf("depositor balance not restored")
	}
	if len(env.state.escrows) != 0 {
		t.Fatalf("failed batch persisted records")
	}
}

func TestBatchRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.BatchLock(ctx, lockItems(1, 2)); err != nil {
		t.Fatalf("batch lock: %v", err)
	}
	other := newTestAddress(0x77)

	_, err := env.engine.BatchRelease(ctx, []ReleaseItem{{BountyID: 1, Recipient: testRecipient}, {BountyID: 3, Recipient: other}})
	requireCode(t, err, escrowerr.CodeBountyNotFound)
	_, err = env.engine.BatchRelease(ctx, []ReleaseItem{{BountyID: 1, Recipient: testRecipient}, {BountyID: 1, Recipient: other}})
	requireCode(t, err, escrowerr.CodeDuplicateBountyID)

	guard := &recordingGuard{}
	env.engine.SetPayoutGuard(guard)
	n, err := env.engine.BatchRelease(ctx, []ReleaseItem{{BountyID: 1, Recipient: testRecipient}, {BountyID: 2, Recipient: other}})
	if err != nil {
		t.Fatalf("batch release: %v", err)
	}
	if n != 2 || env.token.balance(testRecipient).Int64() != 100 || env.token.balance(other).Int64() != 100 {
		t.Fatalf("unexpected payouts")
	}
	if len(guard.calls) != 1 || guard.calls[0] != "bounty:batch/batch_release" {
		t.Fatalf("unexpected guard calls %v", guard.calls)
	}
	_, err = env.engine.BatchRelease(ctx, []ReleaseItem{{BountyID: 1, Recipient: testRecipient}})
	requireCode(t, err, escrowerr.CodeFundsNotLocked)
}

func TestBatchReleaseCompensatesFailedTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.BatchLock(ctx, lockItems(1, 2)); err != nil {
		t.Fatalf("batch lock: %v", err)
	}
	bad := newTestAddress(0x88)
	env.token.failOn = &bad
	_, err := env.engine.BatchRelease(ctx, []ReleaseItem{{BountyID: 1, Recipient: testRecipient}, {BountyID: 2, Recipient: bad}})
	requireCode(t, err, escrowerr.CodeTransferFailed)
	env.token.failOn = nil
	if env.token.balance(testRecipient).Sign() != 0 {
		t.Fatalf("first leg not reversed")
	}
	for _, id := range []uint64{1, 2} {
		esc, _ := env.engine.Get(id)
		if esc.Status != EscrowLocked {
			t.Fatalf("escrow %d left Locked: %s", id, esc.Status)
		}
	}
	balance, _ := env.engine.Balance(ctx)
	if balance.Int64() != 200 {
		t.Fatalf("vault balance %s, want 200", balance)
	}
}

func TestBatchLockRemovesRecordsWhenWriteFails(t *testing.T) {
	env := newTestEnv(t)
	before := env.token.balance(testDepositor).Int64()
	env.state.failPut[3] = true
	env.events.Reset()
	_, err := env.engine.BatchLock(context.Background(), lockItems(1, 2, 3))
	if err == nil {
		t.Fatalf("expected batch lock to fail")
	}
	if len(env.state.escrows) != 0 {
		t.Fatalf("partial records left behind: %v", env.state.escrows)
	}
	if env.token.balance(testDepositor).Int64() != before || env.token.balance(testVault).Sign() != 0 {
		t.Fatalf("transfers not reversed")
	}
	if len(env.events.Events()) != 0 {
		t.Fatalf("failed batch emitted %d events", len(env.events.Events()))
	}
}

func TestBatchReleaseRestoresRecordsWhenWriteFails(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.BatchLock(context.Background(), lockItems(1, 2)); err != nil {
		t.Fatalf("batch lock: %v", err)
	}
	env.state.failPut[2] = true
	_, err := env.engine.BatchRelease(context.Background(), []ReleaseItem{
		{BountyID: 1, Recipient: testRecipient},
		{BountyID: 2, Recipient: testRecipient},
	})
	if err == nil {
		t.Fatalf("expected batch release to fail")
	}
	if env.token.balance(testRecipient).Sign() != 0 {
		t.Fatalf("payouts not reversed")
	}
	for _, id := range []uint64{1, 2} {
		esc, _ := env.engine.Get(id)
		if esc.Status != EscrowLocked || esc.RemainingAmount.Sign() == 0 {
			t.Fatalf("escrow %d not restored: %+v", id, esc)
		}
	}
}
