package bounty

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/core/auth"
	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
	"bountyescrow/native/antiabuse"
	"bountyescrow/native/circuit"
	"bountyescrow/native/compliance"
	"bountyescrow/native/escrow"
	"bountyescrow/native/program"
)

// Store is the persistence surface shared by every component behind the
// engine. core/state.Manager satisfies it.
type Store interface {
	compliance.Store
	antiabuse.Store
	circuit.Store
	program.Store
	EscrowGet(id uint64) (*escrow.Escrow, bool, error)
	EscrowPut(*escrow.Escrow) error
	EscrowDelete(id uint64) error
	ClaimGet(id uint64) (*escrow.PendingClaim, bool, error)
	ClaimPut(*escrow.PendingClaim) error
	ClaimDelete(id uint64) error
	EscrowSettingsGet() (*escrow.Settings, bool, error)
	EscrowSettingsPut(*escrow.Settings) error
}

// Observer receives the outcome of every external operation. A nil error is
// a success.
type Observer interface {
	ObserveOperation(op string, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(string, error) {}

var errNilResolver = errors.New("bounty engine: token resolver not configured")

// Engine is the external operation surface. Each mutator authorises the
// caller, screens participants through compliance, admits the caller through
// the rate limiter and only then hands the request to the owning component.
// Payout paths run behind the circuit breaker.
type Engine struct {
	escrow     *escrow.Engine
	programs   *program.Engine
	compliance *compliance.Gate
	admission  *antiabuse.Controller
	breaker    *circuit.Breaker
	resolver   escrow.TokenResolver
	authz      auth.Authorizer
	observer   Observer
	logger     *slog.Logger
}

// NewEngine wires the components over store. Funds are held at vault and
// moved through the token that resolver returns for the address recorded by
// Init.
func NewEngine(store Store, resolver escrow.TokenResolver, vault common.Address) *Engine {
	e := &Engine{
		compliance: compliance.NewGate(store),
		admission:  antiabuse.NewController(store),
		breaker:    circuit.NewBreaker(store),
		resolver:   resolver,
		authz:      auth.ContextAuthorizer{},
		observer:   noopObserver{},
		logger:     slog.Default(),
	}
	e.escrow = escrow.NewEngine(store, resolver, vault)
	e.escrow.SetPayoutGuard(e.breaker)
	e.programs = program.NewEngine(store, settingsToken{engine: e}, vault)
	e.programs.SetPayoutGuard(e.breaker)
	return e
}

// SetAuthorizer replaces the context signer check. Passing nil restores it.
func (e *Engine) SetAuthorizer(authz auth.Authorizer) {
	if authz == nil {
		e.authz = auth.ContextAuthorizer{}
		return
	}
	e.authz = authz
}

// SetNowFunc installs the ledger clock on every component.
func (e *Engine) SetNowFunc(now func() uint64) {
	e.escrow.SetNowFunc(now)
	e.programs.SetNowFunc(now)
	e.compliance.SetNowFunc(now)
	e.admission.SetNowFunc(now)
	e.breaker.SetNowFunc(now)
}

// SetEmitter routes the events of every component to emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.escrow.SetEmitter(emitter)
	e.programs.SetEmitter(emitter)
	e.compliance.SetEmitter(emitter)
	e.admission.SetEmitter(emitter)
	e.breaker.SetEmitter(emitter)
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger
	e.escrow.SetLogger(logger)
	e.programs.SetLogger(logger)
	e.breaker.SetLogger(logger)
}

func (e *Engine) SetObserver(observer Observer) {
	if observer == nil {
		e.observer = noopObserver{}
		return
	}
	e.observer = observer
}

// Defaults seeds component configuration that has not been set by an
// administrator yet.
type Defaults struct {
	RateLimit antiabuse.Config
	Circuit   circuit.Config
}

func (e *Engine) SetDefaults(d Defaults) error {
	if err := e.admission.SetDefaults(d.RateLimit); err != nil {
		return err
	}
	return e.breaker.SetDefaults(d.Circuit)
}

// Escrow exposes the bounty ledger for read paths that need it directly.
func (e *Engine) Escrow() *escrow.Engine { return e.escrow }

// Programs exposes the program escrow engine.
func (e *Engine) Programs() *program.Engine { return e.programs }

// Breaker exposes the payout circuit breaker.
func (e *Engine) Breaker() *circuit.Breaker { return e.breaker }

func (e *Engine) observe(op string, err error) error {
	e.observer.ObserveOperation(op, err)
	if err != nil {
		code, _ := escrowerr.CodeOf(err)
		e.logger.Debug("escrow operation rejected",
			slog.String("op", op),
			slog.String("code", code.String()),
			slog.Any("error", err))
	}
	return err
}

func (e *Engine) requireAdmin(ctx context.Context) (common.Address, error) {
	settings, err := e.escrow.Settings()
	if err != nil {
		return common.Address{}, err
	}
	if err := e.authz.RequireAuth(ctx, settings.Admin); err != nil {
		return common.Address{}, err
	}
	return settings.Admin, nil
}

// AuthorizeAdmin checks that the administrator signed ctx. Hosts use it to
// gate their own administrative endpoints.
func (e *Engine) AuthorizeAdmin(ctx context.Context) error {
	_, err := e.requireAdmin(ctx)
	return err
}

// admit runs the rate limiter for callers and returns a function recording
// the operation once it has committed.
func (e *Engine) admit(callers ...common.Address) (func(), error) {
	if err := e.admission.CheckAll(callers...); err != nil {
		return nil, err
	}
	return func() {
		// The operation has committed; history loss is logged only.
		if err := e.admission.RecordAll(callers...); err != nil {
			e.logger.Error("record admission history", slog.Any("error", err))
		}
	}, nil
}

func (e *Engine) token() (escrow.Token, error) {
	settings, err := e.escrow.Settings()
	if err != nil {
		return nil, err
	}
	if e.resolver == nil {
		return nil, errNilResolver
	}
	return e.resolver.Resolve(settings.Token)
}

// settingsToken follows the token recorded at Init.
type settingsToken struct{ engine *Engine }

func (t settingsToken) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	token, err := t.engine.token()
	if err != nil {
		return err
	}
	return token.Transfer(ctx, from, to, amount)
}

func (t settingsToken) Balance(ctx context.Context, holder common.Address) (*big.Int, error) {
	token, err := t.engine.token()
	if err != nil {
		return nil, err
	}
	return token.Balance(ctx, holder)
}

// Init records the administrator and token. The administrator must sign.
func (e *Engine) Init(ctx context.Context, admin, token common.Address) error {
	if err := e.authz.RequireAuth(ctx, admin); err != nil {
		return e.observe("init", err)
	}
	return e.observe("init", e.escrow.Initialize(admin, token))
}

// Admin returns the registered administrator.
func (e *Engine) Admin() (common.Address, error) {
	settings, err := e.escrow.Settings()
	if err != nil {
		return common.Address{}, err
	}
	return settings.Admin, nil
}

// LockFunds moves amount from depositor into the vault under bounty id.
func (e *Engine) LockFunds(ctx context.Context, depositor common.Address, id uint64, amount *big.Int, deadline uint64) (*escrow.Escrow, error) {
	esc, err := e.lockFunds(ctx, depositor, id, amount, deadline)
	return esc, e.observe("lock", err)
}

func (e *Engine) lockFunds(ctx context.Context, depositor common.Address, id uint64, amount *big.Int, deadline uint64) (*escrow.Escrow, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return nil, err
	}
	if err := e.authz.RequireAuth(ctx, depositor); err != nil {
		return nil, err
	}
	if err := e.compliance.Require(depositor); err != nil {
		return nil, err
	}
	record, err := e.admit(depositor)
	if err != nil {
		return nil, err
	}
	esc, err := e.escrow.Lock(ctx, depositor, id, amount, deadline)
	if err != nil {
		return nil, err
	}
	record()
	return esc, nil
}

// ReleaseFunds pays the remaining balance of bounty id to recipient.
func (e *Engine) ReleaseFunds(ctx context.Context, id uint64, recipient common.Address) (*escrow.Escrow, error) {
	esc, err := e.releaseFunds(ctx, id, recipient)
	return esc, e.observe("release", err)
}

func (e *Engine) releaseFunds(ctx context.Context, id uint64, recipient common.Address) (*escrow.Escrow, error) {
	admin, err := e.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.compliance.Require(recipient); err != nil {
		return nil, err
	}
	record, err := e.admit(admin)
	if err != nil {
		return nil, err
	}
	if err := e.breaker.CheckAndAllow(); err != nil {
		return nil, err
	}
	esc, err := e.escrow.Release(ctx, id, recipient)
	if err != nil {
		return nil, err
	}
	record()
	return esc, nil
}

// Refund returns funds after the deadline. Anyone may trigger a refund to
// the depositor; redirecting it requires the administrator.
func (e *Engine) Refund(ctx context.Context, id uint64, opts escrow.RefundOptions) (*escrow.Escrow, error) {
	esc, err := e.refund(ctx, id, opts)
	return esc, e.observe("refund", err)
}

func (e *Engine) refund(ctx context.Context, id uint64, opts escrow.RefundOptions) (*escrow.Escrow, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return nil, err
	}
	current, err := e.escrow.Get(id)
	if err != nil {
		return nil, err
	}
	recipient := current.Depositor
	if opts.Recipient != nil {
		if _, err := e.requireAdmin(ctx); err != nil {
			return nil, err
		}
		recipient = *opts.Recipient
	}
	if err := e.compliance.Require(recipient); err != nil {
		return nil, err
	}
	record, err := e.admit(current.Depositor)
	if err != nil {
		return nil, err
	}
	esc, err := e.escrow.Refund(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	record()
	return esc, nil
}

// GetEscrowInfo returns the bounty record.
func (e *Engine) GetEscrowInfo(id uint64) (*escrow.Escrow, error) {
	return e.escrow.Get(id)
}

// GetBalance returns the vault balance of the configured token.
func (e *Engine) GetBalance(ctx context.Context) (*big.Int, error) {
	return e.escrow.Balance(ctx)
}

// AuthorizeClaim lets recipient pull the bounty within window, or the
// configured default when window is nil.
func (e *Engine) AuthorizeClaim(ctx context.Context, id uint64, recipient common.Address, window *uint64) (*escrow.PendingClaim, error) {
	claim, err := e.authorizeClaim(ctx, id, recipient, window)
	return claim, e.observe("authorize_claim", err)
}

func (e *Engine) authorizeClaim(ctx context.Context, id uint64, recipient common.Address, window *uint64) (*escrow.PendingClaim, error) {
	admin, err := e.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.compliance.Require(recipient); err != nil {
		return nil, err
	}
	record, err := e.admit(admin)
	if err != nil {
		return nil, err
	}
	claim, err := e.escrow.AuthorizeClaim(id, recipient, window)
	if err != nil {
		return nil, err
	}
	record()
	return claim, nil
}

// Claim executes the pending claim of bounty id. The claim recipient signs.
func (e *Engine) Claim(ctx context.Context, id uint64) (*escrow.PendingClaim, error) {
	claim, err := e.claim(ctx, id)
	return claim, e.observe("claim", err)
}

func (e *Engine) claim(ctx context.Context, id uint64) (*escrow.PendingClaim, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return nil, err
	}
	pending, err := e.escrow.PendingClaim(id)
	if err != nil {
		return nil, err
	}
	if err := e.authz.RequireAuth(ctx, pending.Recipient); err != nil {
		return nil, err
	}
	if err := e.compliance.Require(pending.Recipient); err != nil {
		return nil, err
	}
	record, err := e.admit(pending.Recipient)
	if err != nil {
		return nil, err
	}
	if err := e.breaker.CheckAndAllow(); err != nil {
		return nil, err
	}
	claim, err := e.escrow.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	record()
	return claim, nil
}

// CancelPendingClaim drops the pending claim of bounty id, expired or not.
func (e *Engine) CancelPendingClaim(ctx context.Context, id uint64) error {
	admin, err := e.requireAdmin(ctx)
	if err != nil {
		return e.observe("cancel_claim", err)
	}
	record, err := e.admit(admin)
	if err != nil {
		return e.observe("cancel_claim", err)
	}
	if err := e.escrow.CancelPendingClaim(id); err != nil {
		return e.observe("cancel_claim", err)
	}
	record()
	return e.observe("cancel_claim", nil)
}

func (e *Engine) GetPendingClaim(id uint64) (*escrow.PendingClaim, error) {
	return e.escrow.PendingClaim(id)
}

func (e *Engine) SetClaimWindow(ctx context.Context, seconds uint64) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("set_claim_window", err)
	}
	return e.observe("set_claim_window", e.escrow.SetClaimWindow(seconds))
}

func (e *Engine) GetClaimWindow() (uint64, error) {
	return e.escrow.ClaimWindow()
}

// SetAmountPolicy installs inclusive bounds for new locks. Nil bounds clear
// the policy.
func (e *Engine) SetAmountPolicy(ctx context.Context, lower, upper *big.Int) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("set_amount_policy", err)
	}
	var policy *escrow.AmountPolicy
	if lower != nil || upper != nil {
		policy = &escrow.AmountPolicy{Min: lower, Max: upper}
	}
	return e.observe("set_amount_policy", e.escrow.SetAmountPolicy(policy))
}

func (e *Engine) GetAmountPolicy() (*escrow.AmountPolicy, error) {
	settings, err := e.escrow.Settings()
	if err != nil {
		return nil, err
	}
	return settings.Policy, nil
}

// BatchLockFunds locks every item or none. Each distinct depositor signs and
// is admitted once.
func (e *Engine) BatchLockFunds(ctx context.Context, items []escrow.LockItem) (int, error) {
	n, err := e.batchLock(ctx, items)
	return n, e.observe("batch_lock", err)
}

func (e *Engine) batchLock(ctx context.Context, items []escrow.LockItem) (int, error) {
	if _, err := e.escrow.Settings(); err != nil {
		return 0, err
	}
	depositors := make([]common.Address, 0, len(items))
	seen := make(map[common.Address]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.Depositor]; ok {
			continue
		}
		seen[item.Depositor] = struct{}{}
		depositors = append(depositors, item.Depositor)
	}
	for _, depositor := range depositors {
		if err := e.authz.RequireAuth(ctx, depositor); err != nil {
			return 0, err
		}
	}
	if err := e.compliance.Require(depositors...); err != nil {
		return 0, err
	}
	record, err := e.admit(depositors...)
	if err != nil {
		return 0, err
	}
	n, err := e.escrow.BatchLock(ctx, items)
	if err != nil {
		return 0, err
	}
	record()
	return n, nil
}

// BatchReleaseFunds releases every item or none.
func (e *Engine) BatchReleaseFunds(ctx context.Context, items []escrow.ReleaseItem) (int, error) {
	n, err := e.batchRelease(ctx, items)
	return n, e.observe("batch_release", err)
}

func (e *Engine) batchRelease(ctx context.Context, items []escrow.ReleaseItem) (int, error) {
	admin, err := e.requireAdmin(ctx)
	if err != nil {
		return 0, err
	}
	recipients := make([]common.Address, len(items))
	for i, item := range items {
		recipients[i] = item.Recipient
	}
	if err := e.compliance.Require(recipients...); err != nil {
		return 0, err
	}
	record, err := e.admit(admin)
	if err != nil {
		return 0, err
	}
	if err := e.breaker.CheckAndAllow(); err != nil {
		return 0, err
	}
	n, err := e.escrow.BatchRelease(ctx, items)
	if err != nil {
		return 0, err
	}
	record()
	return n, nil
}

// SetWhitelist toggles the rate limit bypass for addr.
func (e *Engine) SetWhitelist(ctx context.Context, addr common.Address, whitelisted bool) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("set_rate_limit_whitelist", err)
	}
	return e.observe("set_rate_limit_whitelist", e.admission.SetWhitelist(addr, whitelisted))
}

// IsWhitelisted reports the rate limit bypass for addr.
func (e *Engine) IsWhitelisted(addr common.Address) (bool, error) {
	return e.admission.IsWhitelisted(addr)
}

func (e *Engine) UpdateRateLimitConfig(ctx context.Context, windowSize uint64, maxOperations uint32, cooldown uint64) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("update_rate_limit", err)
	}
	cfg := antiabuse.Config{WindowSize: windowSize, MaxOperations: maxOperations, CooldownPeriod: cooldown}
	return e.observe("update_rate_limit", e.admission.SetConfig(cfg))
}

func (e *Engine) GetRateLimitConfig() (antiabuse.Config, error) {
	return e.admission.Config()
}

func (e *Engine) AddToBlacklist(ctx context.Context, addr common.Address, reason string) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("blacklist_add", err)
	}
	return e.observe("blacklist_add", e.compliance.AddToBlacklist(addr, reason))
}

func (e *Engine) RemoveFromBlacklist(ctx context.Context, addr common.Address) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("blacklist_remove", err)
	}
	return e.observe("blacklist_remove", e.compliance.RemoveFromBlacklist(addr))
}

// AddToWhitelist adds addr to the compliance whitelist consulted in
// whitelist mode.
func (e *Engine) AddToWhitelist(ctx context.Context, addr common.Address) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("whitelist_add", err)
	}
	return e.observe("whitelist_add", e.compliance.AddToWhitelist(addr))
}

func (e *Engine) RemoveFromWhitelist(ctx context.Context, addr common.Address) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("whitelist_remove", err)
	}
	return e.observe("whitelist_remove", e.compliance.RemoveFromWhitelist(addr))
}

func (e *Engine) SetWhitelistMode(ctx context.Context, enabled bool) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("whitelist_mode", err)
	}
	return e.observe("whitelist_mode", e.compliance.SetWhitelistMode(enabled))
}

func (e *Engine) IsBlacklisted(addr common.Address) (bool, error) {
	return e.compliance.IsBlacklisted(addr)
}

// IsComplianceWhitelisted reports compliance whitelist membership.
func (e *Engine) IsComplianceWhitelisted(addr common.Address) (bool, error) {
	return e.compliance.IsWhitelisted(addr)
}

func (e *Engine) IsParticipantAllowed(addr common.Address) (bool, error) {
	return e.compliance.IsParticipantAllowed(addr)
}

func (e *Engine) ConfigureCircuitBreaker(ctx context.Context, cfg circuit.Config) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("circuit_configure", err)
	}
	return e.observe("circuit_configure", e.breaker.Configure(cfg))
}

// ResetCircuitBreaker steps the breaker towards Closed and returns the new
// state.
func (e *Engine) ResetCircuitBreaker(ctx context.Context) (circuit.State, error) {
	if _, err := e.requireAdmin(ctx); err != nil {
		return 0, e.observe("circuit_reset", err)
	}
	state, err := e.breaker.Reset()
	return state, e.observe("circuit_reset", err)
}

func (e *Engine) EmergencyOpenCircuit(ctx context.Context) error {
	if _, err := e.requireAdmin(ctx); err != nil {
		return e.observe("circuit_emergency_open", err)
	}
	return e.observe("circuit_emergency_open", e.breaker.EmergencyOpen())
}

func (e *Engine) GetCircuitStatus() (circuit.Status, error) {
	return e.breaker.Status()
}

func (e *Engine) GetCircuitErrorLog() ([]circuit.ErrorEntry, error) {
	return e.breaker.ErrorLog()
}
