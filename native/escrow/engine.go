package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

const (
	// DefaultClaimWindow applies when neither the call nor the administrator
	// supplies a claim window.
	DefaultClaimWindow uint64 = 86400
	// MaxBatchSize bounds batch lock and release requests.
	MaxBatchSize = 100
)

var (
	errNilState    = errors.New("escrow engine: state not configured")
	errNilResolver = errors.New("escrow engine: token resolver not configured")
)

type engineState interface {
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowPut(*Escrow) error
	EscrowDelete(id uint64) error
	ClaimGet(id uint64) (*PendingClaim, bool, error)
	ClaimPut(*PendingClaim) error
	ClaimDelete(id uint64) error
	EscrowSettingsGet() (*Settings, bool, error)
	EscrowSettingsPut(*Settings) error
}

// Engine owns the bounty fund records and their Locked/Released/Refunded
// transitions, the pending claims layered on top of them and the batch
// variants. Callers are expected to have authorised and admitted the request
// before invoking a mutator; the engine enforces the lifecycle rules.
type Engine struct {
	state    engineState
	resolver TokenResolver
	vault    common.Address
	guard    PayoutGuard
	emitter  events.Emitter
	logger   *slog.Logger
	nowFn    func() uint64
}

// NewEngine creates an escrow engine holding funds at vault. The emitter
// defaults to a no-op implementation.
func NewEngine(state engineState, resolver TokenResolver, vault common.Address) *Engine {
	return &Engine{
		state:    state,
		resolver: resolver,
		vault:    vault,
		guard:    passthroughGuard{},
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetNowFunc overrides the ledger clock. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPayoutGuard wraps every payout transfer (release, claim, batch release).
func (e *Engine) SetPayoutGuard(guard PayoutGuard) {
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

// Vault returns the address holding escrowed funds.
func (e *Engine) Vault() common.Address { return e.vault }

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Initialize records the administrator and token. It can run once only.
func (e *Engine) Initialize(admin, token common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	_, ok, err := e.state.EscrowSettingsGet()
	if err != nil {
		return err
	}
	if ok {
		return escrowerr.ErrAlreadyInitialized
	}
	if e.resolver == nil {
		return errNilResolver
	}
	if _, err := e.resolver.Resolve(token); err != nil {
		return fmt.Errorf("escrow: resolve token %s: %w", token.Hex(), err)
	}
	settings := &Settings{Admin: admin, Token: token, InitializedAt: e.now()}
	if err := e.state.EscrowSettingsPut(settings); err != nil {
		return err
	}
	e.emit(events.EscrowInitialized{Admin: admin, Token: token, Timestamp: settings.InitializedAt})
	return nil
}

// Settings returns the contract configuration or NotInitialized.
func (e *Engine) Settings() (*Settings, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	settings, ok, err := e.state.EscrowSettingsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerr.ErrNotInitialized
	}
	return settings, nil
}

// SetAmountPolicy installs inclusive lock bounds. A nil policy clears them.
func (e *Engine) SetAmountPolicy(policy *AmountPolicy) error {
	settings, err := e.Settings()
	if err != nil {
		return err
	}
	if policy != nil {
		if err := policy.Validate(); err != nil {
			return err
		}
	}
	settings.Policy = policy.Clone()
	if err := e.state.EscrowSettingsPut(settings); err != nil {
		return err
	}
	evt := events.AmountPolicyUpdated{}
	if policy != nil {
		evt.Min, evt.Max = policy.Min, policy.Max
	}
	e.emit(evt)
	return nil
}

// SetClaimWindow sets the window used when AuthorizeClaim is called without
// one.
func (e *Engine) SetClaimWindow(seconds uint64) error {
	settings, err := e.Settings()
	if err != nil {
		return err
	}
	settings.ClaimWindow = seconds
	settings.HasClaimWindow = true
	if err := e.state.EscrowSettingsPut(settings); err != nil {
		return err
	}
	e.emit(events.ClaimWindowUpdated{Window: seconds})
	return nil
}

// ClaimWindow returns the effective default claim window.
func (e *Engine) ClaimWindow() (uint64, error) {
	settings, err := e.Settings()
	if err != nil {
		return 0, err
	}
	if settings.HasClaimWindow {
		return settings.ClaimWindow, nil
	}
	return DefaultClaimWindow, nil
}

func (e *Engine) token(settings *Settings) (Token, error) {
	if e.resolver == nil {
		return nil, errNilResolver
	}
	return e.resolver.Resolve(settings.Token)
}

// Balance returns the vault holdings of the configured token.
func (e *Engine) Balance(ctx context.Context) (*big.Int, error) {
	settings, err := e.Settings()
	if err != nil {
		return nil, err
	}
	token, err := e.token(settings)
	if err != nil {
		return nil, err
	}
	return token.Balance(ctx, e.vault)
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerr.ErrBountyNotFound.Wrapf("id %d", id)
	}
	return esc, nil
}

func (e *Engine) loadLocked(id uint64) (*Escrow, error) {
	esc, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if esc.Status != EscrowLocked {
		return nil, escrowerr.ErrFundsNotLocked.Wrapf("id %d is %s", id, esc.Status)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	return e.state.EscrowPut(sanitized)
}

// validateLock applies the per-item lock rules without touching state.
func validateLock(settings *Settings, amount *big.Int, deadline, now uint64) error {
	if err := settings.Policy.Check(amount); err != nil {
		return err
	}
	if deadline <= now {
		return escrowerr.ErrInvalidDeadline.Wrapf("deadline %d not after %d", deadline, now)
	}
	return nil
}

func (e *Engine) ensureAbsent(id uint64) error {
	_, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return err
	}
	if ok {
		return escrowerr.ErrBountyExists.Wrapf("id %d", id)
	}
	return nil
}

// Lock moves amount from the depositor into the vault and records a Locked
// escrow. A failing transfer leaves no record behind.
func (e *Engine) Lock(ctx context.Context, depositor common.Address, id uint64, amount *big.Int, deadline uint64) (*Escrow, error) {
	settings, err := e.Settings()
	if err != nil {
		return nil, err
	}
	if err := e.ensureAbsent(id); err != nil {
		return nil, err
	}
	now := e.now()
	if err := validateLock(settings, amount, deadline, now); err != nil {
		return nil, err
	}
	token, err := e.token(settings)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if err := token.Transfer(ctx, depositor, e.vault, amt); err != nil {
		return nil, transferError(err)
	}
	esc := &Escrow{
		ID:              id,
		Depositor:       depositor,
		Amount:          amt,
		RemainingAmount: cloneBigInt(amt),
		Status:          EscrowLocked,
		Deadline:        deadline,
		CreatedAt:       now,
	}
	if err := e.storeEscrow(esc); err != nil {
		e.compensate(ctx, token, []transferLeg{{from: depositor, to: e.vault, amount: amt}})
		return nil, err
	}
	e.emit(events.FundsLocked{BountyID: id, Depositor: depositor, Amount: amt, Deadline: deadline})
	return esc.Clone(), nil
}

// Release pays the full remaining balance to recipient. The administrator
// check happens in the caller.
func (e *Engine) Release(ctx context.Context, id uint64, recipient common.Address) (*Escrow, error) {
	settings, err := e.Settings()
	if err != nil {
		return nil, err
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
	if err := e.guard.Guard(bountyProgramID(id), "release", func() error {
		return transferError(token.Transfer(ctx, e.vault, recipient, payout))
	}); err != nil {
		return nil, err
	}
	esc.RemainingAmount = big.NewInt(0)
	esc.Status = EscrowReleased
	if err := e.storeEscrow(esc); err != nil {
		e.compensate(ctx, token, []transferLeg{{from: e.vault, to: recipient, amount: payout}})
		return nil, err
	}
	if err := e.dropPendingClaim(id); err != nil {
		return nil, err
	}
	e.emit(events.FundsReleased{BountyID: id, Recipient: recipient, Amount: payout, Timestamp: e.now()})
	return esc.Clone(), nil
}

// Refund returns funds once the deadline has been reached. Full mode returns
// the whole remaining balance; partial mode returns opts.Amount and keeps the
// escrow Locked until the balance reaches zero.
func (e *Engine) Refund(ctx context.Context, id uint64, opts RefundOptions) (*Escrow, error) {
	settings, err := e.Settings()
	if err != nil {
		return nil, err
	}
	esc, err := e.loadLocked(id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now < esc.Deadline {
		return nil, escrowerr.ErrDeadlineNotPassed.Wrapf("now %d before deadline %d", now, esc.Deadline)
	}
	refund, err := refundAmount(esc, opts)
	if err != nil {
		return nil, err
	}
	recipient := esc.Depositor
	if opts.Recipient != nil {
		recipient = *opts.Recipient
	}
	token, err := e.token(settings)
	if err != nil {
		return nil, err
	}
	if err := token.Transfer(ctx, e.vault, recipient, refund); err != nil {
		return nil, transferError(err)
	}
	esc.RemainingAmount = new(big.Int).Sub(esc.RemainingAmount, refund)
	if esc.RemainingAmount.Sign() == 0 {
		esc.Status = EscrowRefunded
	}
	if err := e.storeEscrow(esc); err != nil {
		e.compensate(ctx, token, []transferLeg{{from: e.vault, to: recipient, amount: refund}})
		return nil, err
	}
	if esc.Status == EscrowRefunded {
		if err := e.dropPendingClaim(id); err != nil {
			return nil, err
		}
	}
	e.emit(events.FundsRefunded{
		BountyID:  id,
		Recipient: recipient,
		Amount:    refund,
		Remaining: cloneBigInt(esc.RemainingAmount),
		Mode:      opts.Mode.String(),
		Timestamp: now,
	})
	return esc.Clone(), nil
}

func refundAmount(esc *Escrow, opts RefundOptions) (*big.Int, error) {
	switch opts.Mode {
	case RefundFull:
		return cloneBigInt(esc.RemainingAmount), nil
	case RefundPartial:
		if opts.Amount == nil || opts.Amount.Sign() <= 0 {
			return nil, escrowerr.ErrInvalidAmount
		}
		if opts.Amount.Cmp(esc.RemainingAmount) > 0 {
			return nil, escrowerr.ErrInvalidAmount.Wrapf("refund %s exceeds remaining %s", opts.Amount, esc.RemainingAmount)
		}
		return cloneBigInt(opts.Amount), nil
	default:
		return nil, escrowerr.ErrInvalidAmount.Wrapf("unknown refund mode %d", opts.Mode)
	}
}

// dropPendingClaim removes an unexecuted claim once its escrow leaves Locked.
func (e *Engine) dropPendingClaim(id uint64) error {
	claim, ok, err := e.state.ClaimGet(id)
	if err != nil || !ok || claim.Claimed {
		return err
	}
	return e.state.ClaimDelete(id)
}

type transferLeg struct {
	from   common.Address
	to     common.Address
	amount *big.Int
}

// compensate reverses completed transfers newest first. Failures are logged
// since the original error is what the caller reports.
func (e *Engine) compensate(ctx context.Context, token Token, legs []transferLeg) {
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		if err := token.Transfer(ctx, leg.to, leg.from, leg.amount); err != nil {
			e.logger.Error("escrow compensation transfer failed",
				slog.String("from", leg.to.Hex()),
				slog.String("to", leg.from.Hex()),
				slog.String("amount", leg.amount.String()),
				slog.Any("error", err))
		}
	}
}

// transferError tags uncoded token failures as TransferFailed while keeping
// coded ones (InsufficientBalance) intact.
func transferError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := escrowerr.CodeOf(err); ok {
		return err
	}
	return fmt.Errorf("%w: %w", escrowerr.ErrTransferFailed, err)
}

func bountyProgramID(id uint64) string {
	return "bounty:" + strconv.FormatUint(id, 10)
}
