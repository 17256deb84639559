package escrow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

// mockState keeps records in maps. Writes of the escrow ids in failPut fail.
type mockState struct {
	escrows  map[uint64]*Escrow
	claims   map[uint64]*PendingClaim
	settings *Settings
	failPut  map[uint64]bool
}

func newMockState() *mockState {
	return &mockState{
		escrows: make(map[uint64]*Escrow),
		claims:  make(map[uint64]*PendingClaim),
		failPut: make(map[uint64]bool),
	}
}

func (m *mockState) EscrowGet(id uint64) (*Escrow, bool, error) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowPut(e *Escrow) error {
	if m.failPut[e.ID] {
		return errors.New("state write failed")
	}
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EscrowDelete(id uint64) error {
	delete(m.escrows, id)
	return nil
}

func (m *mockState) ClaimGet(id uint64) (*PendingClaim, bool, error) {
	c, ok := m.claims[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (m *mockState) ClaimPut(c *PendingClaim) error {
	m.claims[c.BountyID] = c.Clone()
	return nil
}

func (m *mockState) ClaimDelete(id uint64) error {
	delete(m.claims, id)
	return nil
}

func (m *mockState) EscrowSettingsGet() (*Settings, bool, error) {
	if m.settings == nil {
		return nil, false, nil
	}
	return m.settings.Clone(), true, nil
}

func (m *mockState) EscrowSettingsPut(s *Settings) error {
	m.settings = s.Clone()
	return nil
}

// mockToken is an in-memory ledger. failTransfers makes the next n transfers
// fail; failOn and failFrom fail transfers touching a specific address.
type mockToken struct {
	balances      map[common.Address]*big.Int
	transfers     int
	failTransfers int
	failOn        *common.Address
	failFrom      *common.Address
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[common.Address]*big.Int)}
}

func (m *mockToken) mint(addr common.Address, amount int64) {
	m.balances[addr] = new(big.Int).Add(m.balance(addr), big.NewInt(amount))
}

func (m *mockToken) balance(addr common.Address) *big.Int {
	if bal, ok := m.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (m *mockToken) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if m.failTransfers > 0 {
		m.failTransfers--
		return errors.New("token backend unavailable")
	}
	if m.failOn != nil && *m.failOn == to {
		return errors.New("recipient rejected")
	}
	if m.failFrom != nil && *m.failFrom == from {
		return errors.New("sender frozen")
	}
	if m.balance(from).Cmp(amount) < 0 {
		return escrowerr.ErrInsufficientBalance
	}
	m.transfers++
	m.balances[from] = new(big.Int).Sub(m.balance(from), amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func (m *mockToken) Balance(_ context.Context, holder common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.balance(holder)), nil
}

func newTestAddress(fill byte) common.Address {
	return common.BytesToAddress(bytes.Repeat([]byte{fill}, common.AddressLength))
}

var (
	testAdmin     = newTestAddress(0xAD)
	testTokenAddr = newTestAddress(0x70)
	testVault     = newTestAddress(0xEE)
	testDepositor = newTestAddress(0x01)
	testRecipient = newTestAddress(0x02)
)

type testEnv struct {
	engine *Engine
	state  *mockState
	token  *mockToken
	events *events.Recorder
	now    uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{state: newMockState(), token: newMockToken(), events: events.NewRecorder(0), now: 1_000}
	env.engine = NewEngine(env.state, StaticToken(env.token), testVault)
	env.engine.SetNowFunc(func() uint64 { return env.now })
	env.engine.SetEmitter(env.events)
	if err := env.engine.Initialize(testAdmin, testTokenAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	env.token.mint(testDepositor, 1_000_000)
	return env
}

func (env *testEnv) lock(t *testing.T, id uint64, amount int64, deadline uint64) *Escrow {
	t.Helper()
	esc, err := env.engine.Lock(context.Background(), testDepositor, id, big.NewInt(amount), deadline)
	if err != nil {
		t.Fatalf("lock %d: %v", id, err)
	}
	return esc
}

func requireCode(t *testing.T, err error, code escrowerr.Code) {
	t.Helper()
	if !escrowerr.Is(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestInitializeOnce(t *testing.T) {
	env := newTestEnv(t)
	requireCode(t, env.engine.Initialize(testAdmin, testTokenAddr), escrowerr.CodeAlreadyInitialized)

	fresh := NewEngine(newMockState(), StaticToken(newMockToken()), testVault)
	_, err := fresh.Lock(context.Background(), testDepositor, 1, big.NewInt(1), 2_000)
	requireCode(t, err, escrowerr.CodeNotInitialized)
}

func TestLockStoresRecordAndMovesFunds(t *testing.T) {
	env := newTestEnv(t)
	esc := env.lock(t, 1, 1_000, 2_000)
	if esc.Status != EscrowLocked || esc.Amount.Int64() != 1_000 || esc.RemainingAmount.Int64() != 1_000 {
		t.Fatalf("unexpected escrow %+v", esc)
	}
	got, err := env.engine.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Depositor != testDepositor || got.Deadline != 2_000 {
		t.Fatalf("unexpected stored escrow %+v", got)
	}
	balance, _ := env.engine.Balance(context.Background())
	if balance.Int64() != 1_000 {
		t.Fatalf("expected vault balance 1000, got %s", balance)
	}
	types := env.events.Types()
	if types[len(types)-1] != events.TypeEscrowFundsLocked {
		t.Fatalf("expected funds locked event, got %v", types)
	}
}

func TestLockValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.lock(t, 1, 10, 2_000)

	_, err := env.engine.Lock(ctx, testDepositor, 1, big.NewInt(10), 2_000)
	requireCode(t, err, escrowerr.CodeBountyExists)
	_, err = env.engine.Lock(ctx, testDepositor, 2, big.NewInt(0), 2_000)
	requireCode(t, err, escrowerr.CodeInvalidAmount)
	_, err = env.engine.Lock(ctx, testDepositor, 2, big.NewInt(-5), 2_000)
	requireCode(t, err, escrowerr.CodeInvalidAmount)
	_, err = env.engine.Lock(ctx, testDepositor, 2, big.NewInt(10), env.now)
	requireCode(t, err, escrowerr.CodeInvalidDeadline)
}

func TestLockTransferFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	poor := newTestAddress(0x33)
	_, err := env.engine.Lock(context.Background(), poor, 9, big.NewInt(10), 2_000)
	requireCode(t, err, escrowerr.CodeInsufficientBalance)
	if _, ok := env.state.escrows[9]; ok {
		t.Fatalf("record created despite failed transfer")
	}
	env.token.failTransfers = 1
	_, err = env.engine.Lock(context.Background(), testDepositor, 9, big.NewInt(10), 2_000)
	requireCode(t, err, escrowerr.CodeTransferFailed)
	if _, ok := env.state.escrows[9]; ok {
		t.Fatalf("record created despite backend failure")
	}
}

func TestAmountPolicyBoundsAreInclusive(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetAmountPolicy(&AmountPolicy{Min: big.NewInt(100), Max: big.NewInt(10_000)}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	ctx := context.Background()
	_, err := env.engine.Lock(ctx, testDepositor, 1, big.NewInt(99), 2_000)
	requireCode(t, err, escrowerr.CodeAmountBelowMinimum)
	_, err = env.engine.Lock(ctx, testDepositor, 2, big.NewInt(10_001), 2_000)
	requireCode(t, err, escrowerr.CodeAmountAboveMaximum)
	env.lock(t, 3, 100, 2_000)
	env.lock(t, 4, 10_000, 2_000)

	requireCode(t, env.engine.SetAmountPolicy(&AmountPolicy{Min: big.NewInt(5), Max: big.NewInt(4)}), escrowerr.CodeInvalidPolicy)
	requireCode(t, env.engine.SetAmountPolicy(&AmountPolicy{Min: big.NewInt(0), Max: big.NewInt(4)}), escrowerr.CodeInvalidPolicy)
	if err := env.engine.SetAmountPolicy(nil); err != nil {
		t.Fatalf("clear policy: %v", err)
	}
	env.lock(t, 5, 1, 2_000)
}

func TestReleaseIsNotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.lock(t, 1, 1_000, 2_000)
	esc, err := env.engine.Release(context.Background(), 1, testRecipient)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if esc.Status != EscrowReleased || esc.RemainingAmount.Sign() != 0 {
		t.Fatalf("unexpected escrow after release %+v", esc)
	}
	if env.token.balance(testRecipient).Int64() != 1_000 {
		t.Fatalf("recipient not paid")
	}
	_, err = env.engine.Release(context.Background(), 1, testRecipient)
	requireCode(t, err, escrowerr.CodeFundsNotLocked)
	_, err = env.engine.Release(context.Background(), 77, testRecipient)
	requireCode(t, err, escrowerr.CodeBountyNotFound)
}

func TestRefundDeadlineBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.lock(t, 1, 1_000, 2_000)
	before := env.token.balance(testDepositor).Int64()

	env.now = 1_999
	_, err := env.engine.Refund(context.Background(), 1, RefundOptions{})
	requireCode(t, err, escrowerr.CodeDeadlineNotPassed)

	env.now = 2_000
	esc, err := env.engine.Refund(context.Background(), 1, RefundOptions{})
	if err != nil {
		t.Fatalf("refund at deadline: %v", err)
	}
	if esc.Status != EscrowRefunded {
		t.Fatalf("expected refunded, got %s", esc.Status)
	}
	if got := env.token.balance(testDepositor).Int64() - before; got != 1_000 {
		t.Fatalf("expected depositor to regain 1000, got %d", got)
	}
	balance, _ := env.engine.Balance(context.Background())
	if balance.Sign() != 0 {
		t.Fatalf("expected empty vault, got %s", balance)
	}
	_, err = env.engine.Refund(context.Background(), 1, RefundOptions{})
	requireCode(t, err, escrowerr.CodeFundsNotLocked)
}

func TestPartialRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.lock(t, 1, 1_000, 2_000)
	env.now = 2_500
	override := newTestAddress(0x44)

	esc, err := env.engine.Refund(context.Background(), 1, RefundOptions{Mode: RefundPartial, Amount: big.NewInt(300), Recipient: &override})
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if esc.Status != EscrowLocked || esc.RemainingAmount.Int64() != 700 {
		t.Fatalf("unexpected escrow after partial refund %+v", esc)
	}
	if env.token.balance(override).Int64() != 300 {
		t.Fatalf("override recipient not paid")
	}
	_, err = env.engine.Refund(context.Background(), 1, RefundOptions{Mode: RefundPartial, Amount: big.NewInt(701)})
	requireCode(t, err, escrowerr.CodeInvalidAmount)
	_, err = env.engine.Refund(context.Background(), 1, RefundOptions{Mode: RefundPartial})
	requireCode(t, err, escrowerr.CodeInvalidAmount)

	esc, err = env.engine.Refund(context.Background(), 1, RefundOptions{Mode: RefundPartial, Amount: big.NewInt(700)})
	if err != nil {
		t.Fatalf("final partial refund: %v", err)
	}
	if esc.Status != EscrowRefunded || esc.RemainingAmount.Sign() != 0 {
		t.Fatalf("expected refunded once drained, got %+v", esc)
	}
	if esc.Amount.Int64() != 1_000 {
		t.Fatalf("original amount must be preserved, got %s", esc.Amount)
	}
}

func TestPayoutReversedWhenRecordWriteFails(t *testing.T) {
	env := newTestEnv(t)
	env.lock(t, 1, 1_000, 2_000)
	env.lock(t, 2, 600, 2_000)
	env.state.failPut[1] = true
	env.state.failPut[2] = true

	if _, err := env.engine.Release(context.Background(), 1, testRecipient); err == nil {
		t.Fatalf("expected release to fail")
	}
	env.now = 2_000
	if _, err := env.engine.Refund(context.Background(), 2, RefundOptions{Mode: RefundFull}); err == nil {
		t.Fatalf("expected refund to fail")
	}
	if env.token.balance(testRecipient).Sign() != 0 {
		t.Fatalf("release payout not reversed")
	}
	if env.token.balance(testVault).Int64() != 1_600 {
		t.Fatalf("vault should still hold both escrows, got %s", env.token.balance(testVault))
	}
	for _, id := range []uint64{1, 2} {
		esc, _ := env.engine.Get(id)
		if esc.Status != EscrowLocked {
			t.Fatalf("escrow %d left %s", id, esc.Status)
		}
	}
}

type recordingGuard struct {
	calls []string
	block error
}

func (g *recordingGuard) Guard(programID, operation string, fn func() error) error {
	g.calls = append(g.calls, fmt.Sprintf("%s/%s", programID, operation))
	if g.block != nil {
		return g.block
	}
	return fn()
}

func TestPayoutGuardWrapsRelease(t *testing.T) {
	env := newTestEnv(t)
	guard := &recordingGuard{}
	env.engine.SetPayoutGuard(guard)
	env.lock(t, 5, 10, 2_000)
	env.lock(t, 6, 10, 2_000)
	if _, err := env.engine.Release(context.Background(), 5, testRecipient); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(guard.calls) != 1 || guard.calls[0] != "bounty:5/release" {
		t.Fatalf("unexpected guard calls %v", guard.calls)
	}
	guard.block = escrowerr.ErrCircuitOpen
	transfers := env.token.transfers
	_, err := env.engine.Release(context.Background(), 6, testRecipient)
	requireCode(t, err, escrowerr.CodeCircuitOpen)
	if env.token.transfers != transfers {
		t.Fatalf("blocked payout must not transfer")
	}
	esc, _ := env.engine.Get(6)
	if esc.Status != EscrowLocked {
		t.Fatalf("blocked release changed status to %s", esc.Status)
	}
}

func TestStatusHelpers(t *testing.T) {
	if EscrowStatus(7).Valid() || EscrowRefunded.String() != "refunded" {
		t.Fatalf("unexpected status helpers")
	}
	if _, err := SanitizeEscrow(&Escrow{Amount: big.NewInt(5), RemainingAmount: big.NewInt(6)}); err == nil {
		t.Fatalf("expected remaining above amount to be rejected")
	}
}
