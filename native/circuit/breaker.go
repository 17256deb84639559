package circuit

import (
	"errors"
	"log/slog"
	"time"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

var errNilStore = errors.New("circuit: store not configured")

// Store persists the breaker singleton.
type Store interface {
	CircuitGet() (*Record, bool, error)
	CircuitPut(record *Record) error
}

// Breaker isolates payout paths from a failing transfer backend. Unlike a
// timeout breaker it never leaves Open on its own: an administrator must call
// Reset to probe (HalfOpen) and again, or accumulate successes, to close.
type Breaker struct {
	store    Store
	emitter  events.Emitter
	logger   *slog.Logger
	nowFn    func() uint64
	defaults Config
}

func NewBreaker(store Store) *Breaker {
	return &Breaker{
		store:    store,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() uint64 { return uint64(time.Now().Unix()) },
		defaults: DefaultConfig(),
	}
}

func (b *Breaker) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

func (b *Breaker) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

func (b *Breaker) SetNowFunc(now func() uint64) {
	if now != nil {
		b.nowFn = now
	}
}

// SetDefaults replaces the thresholds used before an administrator configures
// the breaker.
func (b *Breaker) SetDefaults(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.defaults = cfg
	return nil
}

func (b *Breaker) load() (*Record, error) {
	if b == nil || b.store == nil {
		return nil, errNilStore
	}
	rec, ok, err := b.store.CircuitGet()
	if err != nil {
		return nil, err
	}
	if !ok || rec == nil {
		return newRecord(b.defaults), nil
	}
	if rec.ErrorLog == nil {
		rec.ErrorLog = newRecord(rec.Config).ErrorLog
	}
	return rec, nil
}

// CheckAndAllow fails with CircuitOpen only while the breaker is Open.
// HalfOpen lets probe traffic through.
func (b *Breaker) CheckAndAllow() error {
	rec, err := b.load()
	if err != nil {
		return err
	}
	if rec.State == StateOpen {
		return escrowerr.ErrCircuitOpen
	}
	return nil
}

// RecordSuccess counts a successful payout. Enough consecutive successes while
// HalfOpen close the breaker.
func (b *Breaker) RecordSuccess() error {
	rec, err := b.load()
	if err != nil {
		return err
	}
	rec.ConsecutiveSuccesses++
	rec.ConsecutiveFailures = 0
	var transition *events.CircuitTransition
	if rec.State == StateHalfOpen && rec.ConsecutiveSuccesses >= rec.Config.SuccessThreshold {
		transition = b.transition(rec, StateClosed, "recovered")
	}
	if err := b.store.CircuitPut(rec); err != nil {
		return err
	}
	b.publish(transition)
	return nil
}

// RecordFailure logs a payout failure and trips the breaker when the
// threshold is reached. Any failure while HalfOpen reopens it immediately.
func (b *Breaker) RecordFailure(programID, operation string, code escrowerr.Code) error {
	rec, err := b.load()
	if err != nil {
		return err
	}
	now := b.nowFn()
	rec.ErrorLog.Push(ErrorEntry{
		ProgramID: programID,
		Operation: operation,
		ErrorCode: uint32(code),
		Timestamp: now,
	})
	rec.ConsecutiveFailures++
	rec.ConsecutiveSuccesses = 0
	rec.TotalFailures++
	rec.LastFailureAt = now
	var transition *events.CircuitTransition
	switch rec.State {
	case StateClosed:
		if rec.ConsecutiveFailures >= rec.Config.FailureThreshold {
			transition = b.transition(rec, StateOpen, "failure threshold reached")
		}
	case StateHalfOpen:
		transition = b.transition(rec, StateOpen, "probe failed")
	}
	if err := b.store.CircuitPut(rec); err != nil {
		return err
	}
	if transition != nil {
		b.logger.Warn("payout circuit opened",
			slog.String("program", programID),
			slog.String("operation", operation),
			slog.String("code", code.String()),
			slog.Uint64("consecutive_failures", uint64(rec.ConsecutiveFailures)))
	}
	b.publish(transition)
	return nil
}

// Reset steps the breaker one position towards Closed and returns the new
// state: Open moves to HalfOpen, HalfOpen to Closed, Closed stays put.
func (b *Breaker) Reset() (State, error) {
	rec, err := b.load()
	if err != nil {
		return 0, err
	}
	var transition *events.CircuitTransition
	switch rec.State {
	case StateOpen:
		transition = b.transition(rec, StateHalfOpen, "admin reset")
	case StateHalfOpen:
		transition = b.transition(rec, StateClosed, "admin reset")
	default:
		return rec.State, nil
	}
	if err := b.store.CircuitPut(rec); err != nil {
		return 0, err
	}
	b.publish(transition)
	return rec.State, nil
}

// EmergencyOpen trips the breaker regardless of counters.
func (b *Breaker) EmergencyOpen() error {
	rec, err := b.load()
	if err != nil {
		return err
	}
	if rec.State == StateOpen {
		return nil
	}
	transition := b.transition(rec, StateOpen, "emergency")
	if err := b.store.CircuitPut(rec); err != nil {
		return err
	}
	b.logger.Warn("payout circuit opened by administrator")
	b.publish(transition)
	return nil
}

// Configure replaces the thresholds. Existing log entries are kept up to the
// new capacity.
func (b *Breaker) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rec, err := b.load()
	if err != nil {
		return err
	}
	rec.Config = cfg
	rec.ErrorLog = rec.ErrorLog.Resize(int(cfg.MaxErrorLog))
	if err := b.store.CircuitPut(rec); err != nil {
		return err
	}
	b.emitter.Emit(events.CircuitConfigured{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		MaxErrorLog:      cfg.MaxErrorLog,
	})
	return nil
}

func (b *Breaker) Status() (Status, error) {
	rec, err := b.load()
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:                rec.State,
		ConsecutiveFailures:  rec.ConsecutiveFailures,
		ConsecutiveSuccesses: rec.ConsecutiveSuccesses,
		TotalFailures:        rec.TotalFailures,
		LastFailureAt:        rec.LastFailureAt,
		OpenedAt:             rec.OpenedAt,
		Config:               rec.Config,
	}, nil
}

// ErrorLog returns the retained failures, oldest first.
func (b *Breaker) ErrorLog() ([]ErrorEntry, error) {
	rec, err := b.load()
	if err != nil {
		return nil, err
	}
	return rec.ErrorLog.Items(), nil
}

// Guard runs fn behind the breaker. A failing fn is recorded against
// programID/operation before its error is returned; the recorded code is the
// error's own code or TransferFailed for uncoded errors. Once fn has succeeded
// its transfer is committed, so a failure to record the success is logged
// rather than returned.
func (b *Breaker) Guard(programID, operation string, fn func() error) error {
	if err := b.CheckAndAllow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		code, ok := escrowerr.CodeOf(err)
		if !ok {
			code = escrowerr.CodeTransferFailed
		}
		if recErr := b.RecordFailure(programID, operation, code); recErr != nil {
			return errors.Join(err, recErr)
		}
		return err
	}
	if err := b.RecordSuccess(); err != nil {
		b.logger.Error("payout circuit success not recorded",
			slog.String("program", programID),
			slog.String("operation", operation),
			slog.Any("error", err))
	}
	return nil
}

func (b *Breaker) transition(rec *Record, to State, reason string) *events.CircuitTransition {
	from := rec.State
	failures := rec.ConsecutiveFailures
	rec.State = to
	if to == StateOpen {
		rec.OpenedAt = b.nowFn()
	} else {
		// Counters restart for the probe or the fresh closed period.
		rec.ConsecutiveFailures, rec.ConsecutiveSuccesses = 0, 0
	}
	return &events.CircuitTransition{
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
		Failures:  failures,
		Timestamp: b.nowFn(),
	}
}

func (b *Breaker) publish(transition *events.CircuitTransition) {
	if transition != nil {
		b.emitter.Emit(*transition)
	}
}
