package program

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

// CreateReleaseSchedule reserves amount of the program balance for recipient,
// releasable from releaseAt. Pending schedules together may not exceed the
// remaining balance.
func (e *Engine) CreateReleaseSchedule(id string, amount *big.Int, releaseAt uint64, recipient common.Address) (*Schedule, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, escrowerr.ErrInvalidAmount
	}
	schedules, err := e.state.SchedulesGet(prog.ID)
	if err != nil {
		return nil, err
	}
	reserved := new(big.Int).Set(amount)
	for _, s := range schedules {
		if !s.Released {
			reserved.Add(reserved, s.Amount)
		}
	}
	if reserved.Cmp(prog.RemainingBalance) > 0 {
		return nil, escrowerr.ErrInsufficientBalance.Wrapf("scheduled %s exceeds remaining %s", reserved, prog.RemainingBalance)
	}
	schedule := &Schedule{
		ID:        uint64(len(schedules)) + 1,
		ProgramID: prog.ID,
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
		ReleaseAt: releaseAt,
	}
	if err := e.state.SchedulesPut(prog.ID, append(schedules, schedule)); err != nil {
		return nil, err
	}
	e.emit(events.ScheduleCreated{
		ProgramID:        prog.ID,
		ScheduleID:       schedule.ID,
		Recipient:        recipient,
		Amount:           schedule.Amount,
		ReleaseTimestamp: releaseAt,
	})
	return schedule.Clone(), nil
}

// ReleaseScheduleManual releases a schedule ahead of its time. The payout key
// check happens in the caller.
func (e *Engine) ReleaseScheduleManual(ctx context.Context, id string, scheduleID uint64, caller common.Address) (*Schedule, error) {
	return e.releaseSchedule(ctx, id, scheduleID, caller, ReleaseManual)
}

// ReleaseScheduleAutomatic releases a schedule that has come due. Anyone may
// trigger it.
func (e *Engine) ReleaseScheduleAutomatic(ctx context.Context, id string, scheduleID uint64, caller common.Address) (*Schedule, error) {
	return e.releaseSchedule(ctx, id, scheduleID, caller, ReleaseAutomatic)
}

func (e *Engine) releaseSchedule(ctx context.Context, id string, scheduleID uint64, caller common.Address, kind ReleaseType) (*Schedule, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	schedules, err := e.state.SchedulesGet(prog.ID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, s := range schedules {
		if s.ID == scheduleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, escrowerr.ErrScheduleNotFound.Wrapf("schedule %d of %q", scheduleID, prog.ID)
	}
	schedule := schedules[idx]
	if schedule.Released {
		return nil, escrowerr.ErrScheduleReleased.Wrapf("schedule %d", scheduleID)
	}
	now := e.now()
	if kind == ReleaseAutomatic && !schedule.Due(now) {
		return nil, escrowerr.ErrScheduleNotDue.Wrapf("schedule %d due at %d", scheduleID, schedule.ReleaseAt)
	}
	records, err := e.payout(ctx, prog, []payoutItem{{recipient: schedule.Recipient, amount: cloneBigInt(schedule.Amount)}}, "schedule_release")
	if err != nil {
		return nil, err
	}
	schedule.Released = true
	schedule.ReleasedAt = now
	schedule.ReleasedBy = caller
	if err := e.state.SchedulesPut(prog.ID, schedules); err != nil {
		return nil, err
	}
	history, err := e.state.ReleaseHistoryGet(prog.ID)
	if err != nil {
		return nil, err
	}
	history = append(history, ReleaseRecord{
		ScheduleID: scheduleID,
		ProgramID:  prog.ID,
		Recipient:  schedule.Recipient,
		Amount:     cloneBigInt(schedule.Amount),
		Fee:        records[0].Fee,
		ReleasedAt: now,
		Type:       kind,
	})
	if err := e.state.ReleaseHistoryPut(prog.ID, history); err != nil {
		return nil, err
	}
	e.emit(events.ScheduleReleased{
		ProgramID:  prog.ID,
		ScheduleID: scheduleID,
		Recipient:  schedule.Recipient,
		Amount:     schedule.Amount,
		Automatic:  kind == ReleaseAutomatic,
		Timestamp:  now,
	})
	return schedule.Clone(), nil
}

// ReleaseSchedule returns one schedule of the program.
func (e *Engine) ReleaseSchedule(id string, scheduleID uint64) (*Schedule, error) {
	schedules, err := e.ReleaseSchedules(id)
	if err != nil {
		return nil, err
	}
	for _, s := range schedules {
		if s.ID == scheduleID {
			return s, nil
		}
	}
	return nil, escrowerr.ErrScheduleNotFound.Wrapf("schedule %d of %q", scheduleID, id)
}

// ReleaseSchedules lists every schedule of the program in creation order.
func (e *Engine) ReleaseSchedules(id string) ([]*Schedule, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	return e.state.SchedulesGet(prog.ID)
}

// PendingSchedules lists the unreleased schedules.
func (e *Engine) PendingSchedules(id string) ([]*Schedule, error) {
	schedules, err := e.ReleaseSchedules(id)
	if err != nil {
		return nil, err
	}
	out := schedules[:0]
	for _, s := range schedules {
		if !s.Released {
			out = append(out, s)
		}
	}
	return out, nil
}

// DueSchedules lists the unreleased schedules whose release time has passed.
func (e *Engine) DueSchedules(id string) ([]*Schedule, error) {
	pending, err := e.PendingSchedules(id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := pending[:0]
	for _, s := range pending {
		if s.Due(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ReleaseHistory returns the release history of the program, oldest first.
func (e *Engine) ReleaseHistory(id string) ([]ReleaseRecord, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	return e.state.ReleaseHistoryGet(prog.ID)
}
