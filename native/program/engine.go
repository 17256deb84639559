package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
	"bountyescrow/native/escrow"
)

var (
	errNilState = errors.New("program engine: state not configured")
	errNilToken = errors.New("program engine: token not configured")
)

// Store persists programs and their satellite records.
type Store interface {
	ProgramGet(id string) (*Program, bool, error)
	ProgramPut(p *Program) error
	ProgramIDs() ([]string, error)
	ProgramFeeConfigGet() (*FeeConfig, bool, error)
	ProgramFeeConfigPut(cfg *FeeConfig) error
	MultisigGet(programID string) (*MultisigConfig, bool, error)
	MultisigPut(programID string, cfg *MultisigConfig) error
	ApprovalGet(programID string, recipient common.Address) (*Approval, bool, error)
	ApprovalPut(a *Approval) error
	ApprovalDelete(programID string, recipient common.Address) error
	SchedulesGet(programID string) ([]*Schedule, error)
	SchedulesPut(programID string, schedules []*Schedule) error
	ReleaseHistoryGet(programID string) ([]ReleaseRecord, error)
	ReleaseHistoryPut(programID string, history []ReleaseRecord) error
}

// Engine manages program escrows: pooled funds paid out by a payout key in
// single, batch or scheduled releases. Authorisation and admission are the
// caller's responsibility; the engine enforces balances, fees and approvals.
type Engine struct {
	state   Store
	token   escrow.Token
	vault   common.Address
	guard   escrow.PayoutGuard
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() uint64
}

// NewEngine creates a program engine holding pooled funds at vault.
func NewEngine(state Store, token escrow.Token, vault common.Address) *Engine {
	return &Engine{
		state:   state,
		token:   token,
		vault:   vault,
		guard:   passthroughGuard{},
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPayoutGuard wraps every outgoing payout, usually with the shared circuit
// breaker.
func (e *Engine) SetPayoutGuard(guard escrow.PayoutGuard) {
	if guard == nil {
		e.guard = passthroughGuard{}
		return
	}
	e.guard = guard
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Vault returns the address holding pooled program funds.
func (e *Engine) Vault() common.Address { return e.vault }

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	return nil
}

func normalizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", escrowerr.ErrInvalidProgramID
	}
	return trimmed, nil
}

// InitProgram registers a program paid out by payoutKey.
func (e *Engine) InitProgram(id string, payoutKey common.Address) (*Program, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	_, exists, err := e.state.ProgramGet(normalized)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, escrowerr.ErrProgramExists.Wrapf("program %q", normalized)
	}
	prog := &Program{
		ID:               normalized,
		PayoutKey:        payoutKey,
		TotalFunds:       big.NewInt(0),
		RemainingBalance: big.NewInt(0),
		CreatedAt:        e.now(),
	}
	if err := e.state.ProgramPut(prog); err != nil {
		return nil, err
	}
	e.emit(events.ProgramInitialized{ProgramID: normalized, PayoutKey: payoutKey, Timestamp: prog.CreatedAt})
	return prog.Clone(), nil
}

// Program returns the stored program.
func (e *Engine) Program(id string) (*Program, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	prog, ok, err := e.state.ProgramGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerr.ErrProgramNotFound.Wrapf("program %q", normalized)
	}
	return prog, nil
}

// Exists reports whether a program with id has been initialised.
func (e *Engine) Exists(id string) (bool, error) {
	_, err := e.Program(id)
	switch {
	case err == nil:
		return true, nil
	case escrowerr.Is(err, escrowerr.CodeProgramNotFound), escrowerr.Is(err, escrowerr.CodeInvalidProgramID):
		return false, nil
	default:
		return false, err
	}
}

// RemainingBalance returns the unpaid balance of the program.
func (e *Engine) RemainingBalance(id string) (*big.Int, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(prog.RemainingBalance), nil
}

// List returns every registered program id in registration order.
func (e *Engine) List() ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.ProgramIDs()
}

// FeeConfig returns the fee configuration; fees are disabled until set.
func (e *Engine) FeeConfig() (FeeConfig, error) {
	if err := e.ready(); err != nil {
		return FeeConfig{}, err
	}
	cfg, ok, err := e.state.ProgramFeeConfigGet()
	if err != nil || !ok {
		return FeeConfig{}, err
	}
	return *cfg, nil
}

// UpdateFeeConfig replaces the fee configuration.
func (e *Engine) UpdateFeeConfig(cfg FeeConfig) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.state.ProgramFeeConfigPut(&cfg); err != nil {
		return err
	}
	e.emit(events.FeeConfigUpdated{
		LockFeeRate:   cfg.LockFeeRate,
		PayoutFeeRate: cfg.PayoutFeeRate,
		Recipient:     cfg.Recipient,
		Enabled:       cfg.Enabled,
	})
	return nil
}

// LockFunds moves amount from the funder into the vault and credits the
// program with the amount net of the lock fee.
func (e *Engine) LockFunds(ctx context.Context, id string, from common.Address, amount *big.Int) (*Program, error) {
	prog, err := e.Program(id)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, escrowerr.ErrInvalidAmount
	}
	fees, err := e.FeeConfig()
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	fee := fees.fee(amt, fees.LockFeeRate)
	if err := e.token.Transfer(ctx, from, e.vault, amt); err != nil {
		return nil, transferError(err)
	}
	legs := []transferLeg{{from: from, to: e.vault, amount: amt}}
	if fee.Sign() > 0 {
		if err := e.token.Transfer(ctx, e.vault, fees.Recipient, fee); err != nil {
			e.compensate(ctx, legs)
			return nil, transferError(err)
		}
		legs = append(legs, transferLeg{from: e.vault, to: fees.Recipient, amount: fee})
	}
	net := new(big.Int).Sub(amt, fee)
	prog.TotalFunds = new(big.Int).Add(prog.TotalFunds, net)
	prog.RemainingBalance = new(big.Int).Add(prog.RemainingBalance, net)
	if err := e.state.ProgramPut(prog); err != nil {
		e.compensate(ctx, legs)
		return nil, err
	}
	e.emit(events.ProgramFundsLocked{ProgramID: prog.ID, From: from, Amount: net, Fee: fee, Remaining: cloneBigInt(prog.RemainingBalance)})
	return prog.Clone(), nil
}

type transferLeg struct {
	from   common.Address
	to     common.Address
	amount *big.Int
}

func (e *Engine) compensate(ctx context.Context, legs []transferLeg) {
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		if err := e.token.Transfer(ctx, leg.to, leg.from, leg.amount); err != nil {
			e.logger.Error("program compensation transfer failed",
				slog.String("from", leg.to.Hex()),
				slog.String("to", leg.from.Hex()),
				slog.String("amount", leg.amount.String()),
				slog.Any("error", err))
		}
	}
}

func transferError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := escrowerr.CodeOf(err); ok {
		return err
	}
	return fmt.Errorf("%w: %w", escrowerr.ErrTransferFailed, err)
}

type passthroughGuard struct{}

func (passthroughGuard) Guard(_, _ string, fn func() error) error { return fn() }

func programGuardID(id string) string { return "program:" + id }
