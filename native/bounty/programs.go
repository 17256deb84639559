package bounty

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/program"
)

// requirePayoutKey loads the program and checks that its payout key signed.
func (e *Engine) requirePayoutKey(ctx context.Context, id string) (*program.Program, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return nil, err
	}
	prog, err := e.programs.Program(id)
	if err != nil {
		return nil, err
	}
	if err := e.authz.RequireAuth(ctx, prog.PayoutKey); err != nil {
		return nil, err
	}
	return prog, nil
}

// InitProgram registers a program escrow paid out by payoutKey. Registration
// is an administrator operation.
func (e *Engine) InitProgram(ctx context.Context, id string, payoutKey common.Address) (*program.Program, error) {
	prog, err := e.initProgram(ctx, id, payoutKey)
	return prog, e.observe("init_program", err)
}

func (e *Engine) initProgram(ctx context.Context, id string, payoutKey common.Address) (*program.Program, error) {
	admin, err := e.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.compliance.Require(payoutKey); err != nil {
		return nil, err
	}
	record, err := e.admit(admin)
	if err != nil {
		return nil, err
	}
	prog, err := e.programs.InitProgram(id, payoutKey)
	if err != nil {
		return nil, err
	}
	record()
	return prog, nil
}

// LockProgramFunds moves amount from the funder into the program pool.
func (e *Engine) LockProgramFunds(ctx context.Context, id string, from common.Address, amount *big.Int) (*program.Program, error) {
	prog, err := e.lockProgramFunds(ctx, id, from, amount)
	return prog, e.observe("lock_program", err)
}

func (e *Engine) lockProgramFunds(ctx context.Context, id string, from common.Address, amount *big.Int) (*program.Program, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return nil, err
	}
	if err := e.authz.RequireAuth(ctx, from); err != nil {
		return nil, err
	}
	if err := e.compliance.Require(from); err != nil {
		return nil, err
	}
	record, err := e.admit(from)
	if err != nil {
		return nil, err
	}
	prog, err := e.programs.LockFunds(ctx, id, from, amount)
	if err != nil {
		return nil, err
	}
	record()
	return prog, nil
}

// SinglePayout pays recipient from the program pool. The payout key signs.
func (e *Engine) SinglePayout(ctx context.Context, id string, recipient common.Address, amount *big.Int) (*program.Program, error) {
	prog, err := e.guardedPayout(ctx, id, []common.Address{recipient}, func() (*program.Program, error) {
		return e.programs.SinglePayout(ctx, id, recipient, amount)
	})
	return prog, e.observe("single_payout", err)
}

// BatchPayout pays every recipient or none.
func (e *Engine) BatchPayout(ctx context.Context, id string, recipients []common.Address, amounts []*big.Int) (*program.Program, error) {
	prog, err := e.guardedPayout(ctx, id, recipients, func() (*program.Program, error) {
		return e.programs.BatchPayout(ctx, id, recipients, amounts)
	})
	return prog, e.observe("batch_payout", err)
}

func (e *Engine) guardedPayout(ctx context.Context, id string, recipients []common.Address, pay func() (*program.Program, error)) (*program.Program, error) {
	prog, err := e.requirePayoutKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.compliance.Require(recipients...); err != nil {
		return nil, err
	}
	record, err := e.admit(prog.PayoutKey)
	if err != nil {
		return nil, err
	}
	if err := e.breaker.CheckAndAllow(); err != nil {
		return nil, err
	}
	updated, err := pay()
	if err != nil {
		return nil, err
	}
	record()
	return updated, nil
}

func (e *Engine) GetProgramInfo(id string) (*program.Program, error) {
	return e.programs.Program(id)
}

func (e *Engine) GetRemainingBalance(id string) (*big.Int, error) {
	return e.programs.RemainingBalance(id)
}

func (e *Engine) ListPrograms() ([]string, error) {
	return e.programs.List()
}

func (e *Engine) ProgramExists(id string) (bool, error) {
	return e.programs.Exists(id)
}

// UpdateFeeConfig replaces the program fee configuration.
func (e *Engine) UpdateFeeConfig(ctx context.Context, cfg program.FeeConfig) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("update_fee_config", err)
	}
	return e.observe("update_fee_config", e.programs.UpdateFeeConfig(cfg))
}

func (e *Engine) GetFeeConfig() (program.FeeConfig, error) {
	return e.programs.FeeConfig()
}

// UpdateMultisigConfig sets the approval threshold of a program. A nil
// threshold disables multisig.
func (e *Engine) UpdateMultisigConfig(ctx context.Context, id string, threshold *big.Int, signers []common.Address, required uint32) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("update_multisig", err)
	}
	return e.observe("update_multisig", e.programs.UpdateMultisigConfig(id, threshold, signers, required))
}

func (e *Engine) GetMultisigConfig(id string) (*program.MultisigConfig, error) {
	return e.programs.Multisig(id)
}

// ApproveLargePayout records approver's vote for paying amount to recipient.
func (e *Engine) ApproveLargePayout(ctx context.Context, id string, recipient common.Address, amount *big.Int, approver common.Address) (int, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return 0, e.observe("approve_payout", err)
	}
	if err := e.authz.RequireAuth(ctx, approver); err != nil {
		return 0, e.observe("approve_payout", err)
	}
	n, err := e.programs.ApproveLargePayout(id, recipient, amount, approver)
	return n, e.observe("approve_payout", err)
}

func (e *Engine) GetApprovals(id string, recipient common.Address) (*program.Approval, bool, error) {
	return e.programs.Approvals(id, recipient)
}

// CreateReleaseSchedule reserves program funds for a future payout. The
// payout key signs.
func (e *Engine) CreateReleaseSchedule(ctx context.Context, id string, amount *big.Int, releaseAt uint64, recipient common.Address) (*program.Schedule, error) {
	schedule, err := e.createReleaseSchedule(ctx, id, amount, releaseAt, recipient)
	return schedule, e.observe("create_schedule", err)
}

func (e *Engine) createReleaseSchedule(ctx context.Context, id string, amount *big.Int, releaseAt uint64, recipient common.Address) (*program.Schedule, error) {
	prog, err := e.requirePayoutKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.compliance.Require(recipient); err != nil {
		return nil, err
	}
	record, err := e.admit(prog.PayoutKey)
	if err != nil {
		return nil, err
	}
	schedule, err := e.programs.CreateReleaseSchedule(id, amount, releaseAt, recipient)
	if err != nil {
		return nil, err
	}
	record()
	return schedule, nil
}

// ReleaseScheduleManual releases a schedule early on the payout key's
// authority.
func (e *Engine) ReleaseScheduleManual(ctx context.Context, id string, scheduleID uint64) (*program.Schedule, error) {
	schedule, err := e.releaseSchedule(ctx, id, scheduleID, nil)
	return schedule, e.observe("release_schedule_manual", err)
}

// ReleaseScheduleAutomatic releases a due schedule. Any signer may trigger it.
func (e *Engine) ReleaseScheduleAutomatic(ctx context.Context, id string, scheduleID uint64, caller common.Address) (*program.Schedule, error) {
	schedule, err := e.releaseSchedule(ctx, id, scheduleID, &caller)
	return schedule, e.observe("release_schedule_automatic", err)
}

func (e *Engine) releaseSchedule(ctx context.Context, id string, scheduleID uint64, caller *common.Address) (*program.Schedule, error) {
	var actor common.Address
	if caller == nil {
		prog, err := e.requirePayoutKey(ctx, id)
		if err != nil {
			return nil, err
		}
		actor = prog.PayoutKey
	} else {
		if _, err := e.escrow.Settings(); err != nil {
			return nil, err
		}
		if err := e.authz.RequireAuth(ctx, *caller); err != nil {
			return nil, err
		}
		actor = *caller
	}
	current, err := e.programs.ReleaseSchedule(id, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := e.compliance.Require(current.Recipient); err != nil {
		return nil, err
	}
	record, err := e.admit(actor)
	if err != nil {
		return nil, err
	}
	if err := e.breaker.CheckAndAllow(); err != nil {
		return nil, err
	}
	var schedule *program.Schedule
	if caller == nil {
		schedule, err = e.programs.ReleaseScheduleManual(ctx, id, scheduleID, actor)
	} else {
		schedule, err = e.programs.ReleaseScheduleAutomatic(ctx, id, scheduleID, actor)
	}
	if err != nil {
		return nil, err
	}
	record()
	return schedule, nil
}

func (e *Engine) GetReleaseSchedule(id string, scheduleID uint64) (*program.Schedule, error) {
	return e.programs.ReleaseSchedule(id, scheduleID)
}

func (e *Engine) ListReleaseSchedules(id string) ([]*program.Schedule, error) {
	return e.programs.ReleaseSchedules(id)
}

func (e *Engine) PendingSchedules(id string) ([]*program.Schedule, error) {
	return e.programs.PendingSchedules(id)
}

func (e *Engine) DueSchedules(id string) ([]*program.Schedule, error) {
	return e.programs.DueSchedules(id)
}

func (e *Engine) ReleaseHistory(id string) ([]program.ReleaseRecord, error) {
	return e.programs.ReleaseHistory(id)
}
