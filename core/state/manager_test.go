package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/antiabuse"
	"bountyescrow/native/bank"
	"bountyescrow/native/circuit"
	nativecommon "bountyescrow/native/common"
	"bountyescrow/native/compliance"
	"bountyescrow/native/escrow"
	"bountyescrow/native/program"
	"bountyescrow/storage"
)

var (
	_ compliance.Store = (*Manager)(nil)
	_ antiabuse.Store  = (*Manager)(nil)
	_ circuit.Store    = (*Manager)(nil)
	_ bank.Store       = (*Manager)(nil)
	_ program.Store    = (*Manager)(nil)
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestKVHelpers(t *testing.T) {
	mgr := newTestManager(t)
	if ok, err := mgr.KVGet([]byte("missing"), new(uint64)); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := mgr.KVPut([]byte("answer"), uint64(42)); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got uint64
	if ok, err := mgr.KVGet([]byte("answer"), &got); err != nil || !ok || got != 42 {
		t.Fatalf("get: ok=%v err=%v value=%d", ok, err, got)
	}
	if err := mgr.KVDelete([]byte("answer")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("answer"), &got); ok {
		t.Fatalf("value survived delete")
	}

	for _, v := range []string{"a", "b", "a"} {
		if err := mgr.KVAppend([]byte("index"), []byte(v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList([]byte("index"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "a" || string(list[1]) != "b" {
		t.Fatalf("unexpected index %q", list)
	}
	var empty []uint64
	if err := mgr.KVGetList([]byte("none"), &empty); err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v (%v)", empty, err)
	}
	if err := mgr.KVPut(nil, 1); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestEscrowRecordsRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	esc := &escrow.Escrow{
		ID:              7,
		Depositor:       common.HexToAddress("0x01"),
		Amount:          big.NewInt(1_000),
		RemainingAmount: big.NewInt(250),
		Status:          escrow.EscrowLocked,
		Deadline:        99,
		CreatedAt:       10,
	}
	if err := mgr.EscrowPut(esc); err != nil {
		t.Fatalf("put escrow: %v", err)
	}
	got, ok, err := mgr.EscrowGet(7)
	if err != nil || !ok {
		t.Fatalf("get escrow: ok=%v err=%v", ok, err)
	}
	if got.RemainingAmount.Int64() != 250 || got.Depositor != esc.Depositor || got.Deadline != 99 {
		t.Fatalf("unexpected escrow %+v", got)
	}
	if err := mgr.EscrowPut(&escrow.Escrow{ID: 8, Amount: big.NewInt(1), RemainingAmount: big.NewInt(2)}); err == nil {
		t.Fatalf("expected invalid escrow to be rejected")
	}

	claim := &escrow.PendingClaim{BountyID: 7, Recipient: common.HexToAddress("0x02"), Amount: big.NewInt(250), CreatedAt: 11, ExpiresAt: 50}
	if err := mgr.ClaimPut(claim); err != nil {
		t.Fatalf("put claim: %v", err)
	}
	gotClaim, ok, err := mgr.ClaimGet(7)
	if err != nil || !ok || gotClaim.ExpiresAt != 50 || gotClaim.Claimed {
		t.Fatalf("unexpected claim %+v ok=%v err=%v", gotClaim, ok, err)
	}
	if err := mgr.ClaimDelete(7); err != nil {
		t.Fatalf("delete claim: %v", err)
	}
	if _, ok, _ := mgr.ClaimGet(7); ok {
		t.Fatalf("claim survived delete")
	}
	if err := mgr.EscrowDelete(7); err != nil {
		t.Fatalf("delete escrow: %v", err)
	}
	if _, ok, _ := mgr.EscrowGet(7); ok {
		t.Fatalf("escrow survived delete")
	}
}

func TestSettingsPreserveOptionalFields(t *testing.T) {
	mgr := newTestManager(t)
	if _, ok, _ := mgr.EscrowSettingsGet(); ok {
		t.Fatalf("settings present before initialisation")
	}
	settings := &escrow.Settings{Admin: common.HexToAddress("0xad"), Token: common.HexToAddress("0x70"), InitializedAt: 5}
	if err := mgr.EscrowSettingsPut(settings); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	got, _, _ := mgr.EscrowSettingsGet()
	if got.Policy != nil || got.HasClaimWindow {
		t.Fatalf("unset optional fields came back set: %+v", got)
	}
	settings.Policy = &escrow.AmountPolicy{Min: big.NewInt(100), Max: big.NewInt(10_000)}
	settings.ClaimWindow, settings.HasClaimWindow = 0, true
	_ = mgr.EscrowSettingsPut(settings)
	got, _, _ = mgr.EscrowSettingsGet()
	if got.Policy == nil || got.Policy.Min.Int64() != 100 || got.Policy.Max.Int64() != 10_000 || !got.HasClaimWindow {
		t.Fatalf("optional fields lost: %+v", got)
	}
}

func TestRiskStores(t *testing.T) {
	mgr := newTestManager(t)
	addr := common.HexToAddress("0xbad")
	if err := mgr.BlacklistPut(addr, "sanctioned"); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	reason, listed, err := mgr.BlacklistGet(addr)
	if err != nil || !listed || reason != "sanctioned" {
		t.Fatalf("unexpected blacklist entry %q %v %v", reason, listed, err)
	}
	if err := mgr.WhitelistModePut(true); err != nil {
		t.Fatalf("whitelist mode: %v", err)
	}
	if enabled, _ := mgr.WhitelistModeGet(); !enabled {
		t.Fatalf("whitelist mode not persisted")
	}

	cfg := antiabuse.Config{WindowSize: 100, MaxOperations: 3, CooldownPeriod: 5}
	if err := mgr.RateLimitConfigPut(cfg); err != nil {
		t.Fatalf("rate limit config: %v", err)
	}
	gotCfg, ok, _ := mgr.RateLimitConfigGet()
	if !ok || gotCfg != cfg {
		t.Fatalf("unexpected config %+v", gotCfg)
	}
	history := antiabuse.NewHistory(cfg)
	history.Push(10)
	history.Push(20)
	if err := mgr.CallerHistoryPut(addr, history); err != nil {
		t.Fatalf("history put: %v", err)
	}
	gotHistory, ok, _ := mgr.CallerHistoryGet(addr)
	if !ok || gotHistory.Len() != 2 || gotHistory.Cap() != 3 {
		t.Fatalf("unexpected history %+v", gotHistory)
	}

	rec := &circuit.Record{State: circuit.StateOpen, ConsecutiveFailures: 3, OpenedAt: 77, Config: circuit.DefaultConfig()}
	rec.ErrorLog = nativecommon.NewRing[circuit.ErrorEntry](2)
	rec.ErrorLog.Push(circuit.ErrorEntry{ProgramID: "bounty:1", Operation: "release", ErrorCode: 26, Timestamp: 70})
	if err := mgr.CircuitPut(rec); err != nil {
		t.Fatalf("circuit put: %v", err)
	}
	gotRec, ok, err := mgr.CircuitGet()
	if err != nil || !ok {
		t.Fatalf("circuit get: ok=%v err=%v", ok, err)
	}
	if gotRec.State != circuit.StateOpen || gotRec.ConsecutiveFailures != 3 || gotRec.OpenedAt != 77 {
		t.Fatalf("unexpected circuit record %+v", gotRec)
	}
	entries := gotRec.ErrorLog.Items()
	if len(entries) != 1 || entries[0].Operation != "release" || gotRec.ErrorLog.Cap() != 2 {
		t.Fatalf("unexpected error log %+v", entries)
	}
}

func TestProgramStores(t *testing.T) {
	mgr := newTestManager(t)
	for _, id := range []string{"alpha", "beta"} {
		prog := &program.Program{ID: id, TotalFunds: big.NewInt(0), RemainingBalance: big.NewInt(0)}
		if err := mgr.ProgramPut(prog); err != nil {
			t.Fatalf("put program: %v", err)
		}
	}
	prog, _, _ := mgr.ProgramGet("alpha")
	prog.RemainingBalance = big.NewInt(40)
	prog.Payouts = append(prog.Payouts, program.PayoutRecord{Recipient: common.HexToAddress("0x0a"), Amount: big.NewInt(60), Fee: big.NewInt(0), Timestamp: 3})
	if err := mgr.ProgramPut(prog); err != nil {
		t.Fatalf("update program: %v", err)
	}
	ids, err := mgr.ProgramIDs()
	if err != nil || len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Fatalf("unexpected ids %v (%v)", ids, err)
	}
	got, ok, _ := mgr.ProgramGet("alpha")
	if !ok || got.RemainingBalance.Int64() != 40 || len(got.Payouts) != 1 {
		t.Fatalf("unexpected program %+v", got)
	}

	if err := mgr.MultisigPut("alpha", &program.MultisigConfig{Signers: []common.Address{common.HexToAddress("0x51")}, RequiredApprovals: 1}); err != nil {
		t.Fatalf("multisig put: %v", err)
	}
	cfg, _, _ := mgr.MultisigGet("alpha")
	if cfg.Threshold != nil {
		t.Fatalf("nil threshold came back as %s", cfg.Threshold)
	}

	schedules := []*program.Schedule{{ID: 1, ProgramID: "alpha", Amount: big.NewInt(5), ReleaseAt: 9}}
	if err := mgr.SchedulesPut("alpha", schedules); err != nil {
		t.Fatalf("schedules put: %v", err)
	}
	gotSchedules, _ := mgr.SchedulesGet("alpha")
	if len(gotSchedules) != 1 || gotSchedules[0].ReleaseAt != 9 {
		t.Fatalf("unexpected schedules %+v", gotSchedules)
	}
	history, err := mgr.ReleaseHistoryGet("beta")
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %v (%v)", history, err)
	}
}

func TestBalances(t *testing.T) {
	mgr := newTestManager(t)
	token, holder := common.HexToAddress("0xc1"), common.HexToAddress("0x01")
	bal, err := mgr.BalanceGet(token, holder)
	if err != nil || bal.Sign() != 0 {
		t.Fatalf("expected zero balance, got %v (%v)", bal, err)
	}
	if err := mgr.BalancePut(token, holder, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
	_ = mgr.BalancePut(token, holder, big.NewInt(12))
	if bal, _ := mgr.BalanceGet(token, holder); bal.Int64() != 12 {
		t.Fatalf("unexpected balance %s", bal)
	}
}
