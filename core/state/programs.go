package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/native/program"
)

var (
	balancePrefix         = []byte("bank/balance/")
	programPrefix         = []byte("program/record/")
	programIndexKey       = []byte("program/index")
	programFeeConfigKey   = []byte("program/fees")
	programMultisigPrefix = []byte("program/multisig/")
	programApprovalPrefix = []byte("program/approval/")
	programSchedulePrefix = []byte("program/schedules/")
	programHistoryPrefix  = []byte("program/history/")
)

func balanceKey(token, holder common.Address) []byte {
	buf := append(append([]byte(nil), balancePrefix...), token.Bytes()...)
	buf = append(buf, ':')
	return append(buf, holder.Bytes()...)
}

func programKey(prefix []byte, id string) []byte {
	return append(append([]byte(nil), prefix...), id...)
}

func approvalKey(id string, recipient common.Address) []byte {
	buf := programKey(programApprovalPrefix, id)
	buf = append(buf, ':')
	return append(buf, recipient.Bytes()...)
}

// BalanceGet returns the holder's balance of token, zero when unset.
func (m *Manager) BalanceGet(token, holder common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(token, holder), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) BalancePut(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return m.KVPut(balanceKey(token, holder), amount)
}

// ProgramGet loads a program escrow.
func (m *Manager) ProgramGet(id string) (*program.Program, bool, error) {
	prog := new(program.Program)
	ok, err := m.KVGet(programKey(programPrefix, id), prog)
	if err != nil || !ok {
		return nil, false, err
	}
	return prog, true, nil
}

// ProgramPut persists a program escrow and records it in the program index.
func (m *Manager) ProgramPut(p *program.Program) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("state: program id required")
	}
	stored := p.Clone()
	if err := m.KVPut(programKey(programPrefix, p.ID), stored); err != nil {
		return err
	}
	return m.KVAppend(programIndexKey, []byte(p.ID))
}

// ProgramIDs lists registered programs in registration order.
func (m *Manager) ProgramIDs() ([]string, error) {
	var raw [][]byte
	if err := m.KVGetList(programIndexKey, &raw); err != nil {
		return nil, err
	}
	ids := make([]string, len(raw))
	for i, id := range raw {
		ids[i] = string(id)
	}
	return ids, nil
}

func (m *Manager) ProgramFeeConfigGet() (*program.FeeConfig, bool, error) {
	cfg := new(program.FeeConfig)
	ok, err := m.KVGet(programFeeConfigKey, cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

func (m *Manager) ProgramFeeConfigPut(cfg *program.FeeConfig) error {
	return m.KVPut(programFeeConfigKey, cfg)
}

type storedMultisig struct {
	HasThreshold      bool
	Threshold         *big.Int
	Signers           []common.Address
	RequiredApprovals uint32
}

func (m *Manager) MultisigGet(id string) (*program.MultisigConfig, bool, error) {
	var stored storedMultisig
	ok, err := m.KVGet(programKey(programMultisigPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	cfg := &program.MultisigConfig{Signers: stored.Signers, RequiredApprovals: stored.RequiredApprovals}
	if stored.HasThreshold {
		cfg.Threshold = amountOrZero(stored.Threshold)
	}
	return cfg, true, nil
}

func (m *Manager) MultisigPut(id string, cfg *program.MultisigConfig) error {
	stored := &storedMultisig{
		Threshold:         big.NewInt(0),
		Signers:           cfg.Signers,
		RequiredApprovals: cfg.RequiredApprovals,
	}
	if cfg.Threshold != nil {
		stored.HasThreshold = true
		stored.Threshold = amountOrZero(cfg.Threshold)
	}
	return m.KVPut(programKey(programMultisigPrefix, id), stored)
}

func (m *Manager) ApprovalGet(id string, recipient common.Address) (*program.Approval, bool, error) {
	approval := new(program.Approval)
	ok, err := m.KVGet(approvalKey(id, recipient), approval)
	if err != nil || !ok {
		return nil, false, err
	}
	return approval, true, nil
}

func (m *Manager) ApprovalPut(a *program.Approval) error {
	return m.KVPut(approvalKey(a.ProgramID, a.Recipient), a)
}

func (m *Manager) ApprovalDelete(id string, recipient common.Address) error {
	return m.KVDelete(approvalKey(id, recipient))
}

// SchedulesGet lists a program's release schedules in creation order.
func (m *Manager) SchedulesGet(id string) ([]*program.Schedule, error) {
	var schedules []*program.Schedule
	if err := m.KVGetList(programKey(programSchedulePrefix, id), &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (m *Manager) SchedulesPut(id string, schedules []*program.Schedule) error {
	return m.KVPut(programKey(programSchedulePrefix, id), schedules)
}

func (m *Manager) ReleaseHistoryGet(id string) ([]program.ReleaseRecord, error) {
	var history []program.ReleaseRecord
	if err := m.KVGetList(programKey(programHistoryPrefix, id), &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (m *Manager) ReleaseHistoryPut(id string, history []program.ReleaseRecord) error {
	return m.KVPut(programKey(programHistoryPrefix, id), history)
}
