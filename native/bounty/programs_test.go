package bounty

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/native/program"
)

var (
	testPayoutKey = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testSigner    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testFeeSink   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func newProgramEnv(t *testing.T, funds int64) *testEnv {
	t.Helper()
	env := newReadyEnv(t)
	if _, err := env.engine.InitProgram(signed(testDepositor), "hack-2026", testPayoutKey); !escrowerr.Is(err, escrowerr.CodeUnauthorized) {
		t.Fatalf("expected unauthorized program registration, got %v", err)
	}
	if _, err := env.engine.InitProgram(signed(testAdmin), "hack-2026", testPayoutKey); err != nil {
		t.Fatalf("init program: %v", err)
	}
	if _, err := env.engine.LockProgramFunds(signed(testDepositor), "hack-2026", testDepositor, big.NewInt(funds)); err != nil {
		t.Fatalf("lock program funds: %v", err)
	}
	return env
}

func TestProgramPayoutsRequirePayoutKey(t *testing.T) {
	env := newProgramEnv(t, 10_000)
	_, err := env.engine.SinglePayout(signed(testAdmin), "hack-2026", testContributor, big.NewInt(100))
	requireCode(t, err, escrowerr.CodeUnauthorized)

	prog, err := env.engine.SinglePayout(signed(testPayoutKey), "hack-2026", testContributor, big.NewInt(100))
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if prog.RemainingBalance.Int64() != 9_900 || len(prog.Payouts) != 1 {
		t.Fatalf("unexpected program %+v", prog)
	}
	_, err = env.engine.BatchPayout(signed(testPayoutKey), "hack-2026",
		[]common.Address{testContributor, testStranger}, []*big.Int{big.NewInt(1)})
	requireCode(t, err, escrowerr.CodeBatchSizeMismatch)

	if _, err := env.engine.BatchPayout(signed(testPayoutKey), "hack-2026",
		[]common.Address{testContributor, testStranger}, []*big.Int{big.NewInt(200), big.NewInt(300)}); err != nil {
		t.Fatalf("batch payout: %v", err)
	}
	if got := env.balance(testContributor); got != 300 {
		t.Fatalf("contributor received %d", got)
	}
	remaining, err := env.engine.GetRemainingBalance("hack-2026")
	if err != nil || remaining.Int64() != 9_400 {
		t.Fatalf("unexpected remaining %v (%v)", remaining, err)
	}
	ids, _ := env.engine.ListPrograms()
	if len(ids) != 1 || ids[0] != "hack-2026" {
		t.Fatalf("unexpected programs %v", ids)
	}
	if ok, _ := env.engine.ProgramExists("missing"); ok {
		t.Fatalf("missing program reported as existing")
	}
}

func TestProgramPayoutsRespectCompliance(t *testing.T) {
	env := newProgramEnv(t, 1_000)
	if err := env.engine.AddToBlacklist(signed(testAdmin), testStranger, "fraud"); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	_, err := env.engine.SinglePayout(signed(testPayoutKey), "hack-2026", testStranger, big.NewInt(10))
	requireCode(t, err, escrowerr.CodeParticipantNotAllowed)
	if remaining, _ := env.engine.GetRemainingBalance("hack-2026"); remaining.Int64() != 1_000 {
		t.Fatalf("rejected payout debited the program: %s", remaining)
	}
}

func TestProgramPayoutsShareTheBreaker(t *testing.T) {
	env := newProgramEnv(t, 1_000)
	if err := env.engine.EmergencyOpenCircuit(signed(testAdmin)); err != nil {
		t.Fatalf("emergency open: %v", err)
	}
	attempts := env.attempts
	_, err := env.engine.SinglePayout(signed(testPayoutKey), "hack-2026", testContributor, big.NewInt(10))
	requireCode(t, err, escrowerr.CodeCircuitOpen)
	if env.attempts != attempts {
		t.Fatalf("transfer attempted while open")
	}
}

func TestProgramFeesAndMultisig(t *testing.T) {
	env := newReadyEnv(t)
	fees := program.FeeConfig{LockFeeRate: 100, PayoutFeeRate: 200, Recipient: testFeeSink, Enabled: true}
	requireCode(t, env.engine.UpdateFeeConfig(signed(testPayoutKey), fees), escrowerr.CodeUnauthorized)
	if err := env.engine.UpdateFeeConfig(signed(testAdmin), fees); err != nil {
		t.Fatalf("fee config: %v", err)
	}
	if _, err := env.engine.InitProgram(signed(testAdmin), "grants", testPayoutKey); err != nil {
		t.Fatalf("init program: %v", err)
	}
	prog, err := env.engine.LockProgramFunds(signed(testDepositor), "grants", testDepositor, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if prog.RemainingBalance.Int64() != 9_900 || env.balance(testFeeSink) != 100 {
		t.Fatalf("lock fee not applied: remaining %s fee sink %d", prog.RemainingBalance, env.balance(testFeeSink))
	}

	if err := env.engine.UpdateMultisigConfig(signed(testAdmin), "grants", big.NewInt(1_000), []common.Address{testSigner}, 1); err != nil {
		t.Fatalf("multisig: %v", err)
	}
	_, err = env.engine.SinglePayout(signed(testPayoutKey), "grants", testContributor, big.NewInt(5_000))
	requireCode(t, err, escrowerr.CodeApprovalRequired)
	_, err = env.engine.ApproveLargePayout(signed(testStranger), "grants", testContributor, big.NewInt(5_000), testSigner)
	requireCode(t, err, escrowerr.CodeUnauthorized)
	n, err := env.engine.ApproveLargePayout(signed(testSigner), "grants", testContributor, big.NewInt(5_000), testSigner)
	if err != nil || n != 1 {
		t.Fatalf("approve: n=%d err=%v", n, err)
	}
	if _, err := env.engine.SinglePayout(signed(testPayoutKey), "grants", testContributor, big.NewInt(5_000)); err != nil {
		t.Fatalf("approved payout: %v", err)
	}
	if got := env.balance(testContributor); got != 4_900 {
		t.Fatalf("contributor received %d after payout fee", got)
	}
	if _, ok, _ := env.engine.GetApprovals("grants", testContributor); ok {
		t.Fatalf("approval not consumed")
	}
}

func TestProgramSchedules(t *testing.T) {
	env := newProgramEnv(t, 1_000)
	schedule, err := env.engine.CreateReleaseSchedule(signed(testPayoutKey), "hack-2026", big.NewInt(400), env.now+100, testContributor)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	_, err = env.engine.ReleaseScheduleAutomatic(signed(testStranger), "hack-2026", schedule.ID, testStranger)
	requireCode(t, err, escrowerr.CodeScheduleNotDue)

	env.now += 100
	due, err := env.engine.DueSchedules("hack-2026")
	if err != nil || len(due) != 1 {
		t.Fatalf("unexpected due schedules %v (%v)", due, err)
	}
	released, err := env.engine.ReleaseScheduleAutomatic(signed(testStranger), "hack-2026", schedule.ID, testStranger)
	if err != nil {
		t.Fatalf("automatic release: %v", err)
	}
	if !released.Released || released.ReleasedBy != testStranger {
		t.Fatalf("unexpected schedule %+v", released)
	}
	_, err = env.engine.ReleaseScheduleManual(signed(testPayoutKey), "hack-2026", schedule.ID)
	requireCode(t, err, escrowerr.CodeScheduleReleased)

	second, err := env.engine.CreateReleaseSchedule(signed(testPayoutKey), "hack-2026", big.NewInt(600), env.now+10_000, testContributor)
	if err != nil {
		t.Fatalf("create second schedule: %v", err)
	}
	_, err = env.engine.ReleaseScheduleManual(signed(testStranger), "hack-2026", second.ID)
	requireCode(t, err, escrowerr.CodeUnauthorized)
	if _, err := env.engine.ReleaseScheduleManual(signed(testPayoutKey), "hack-2026", second.ID); err != nil {
		t.Fatalf("manual release: %v", err)
	}
	history, _ := env.engine.ReleaseHistory("hack-2026")
	if len(history) != 2 || history[0].Type != program.ReleaseAutomatic || history[1].Type != program.ReleaseManual {
		t.Fatalf("unexpected history %+v", history)
	}
	if got := env.balance(testContributor); got != 1_000 {
		t.Fatalf("contributor received %d", got)
	}
	if pending, _ := env.engine.PendingSchedules("hack-2026"); len(pending) != 0 {
		t.Fatalf("unexpected pending schedules %v", pending)
	}
}
