package antiabuse

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountyescrow/core/events"
)

var errNilStore = errors.New("antiabuse: store not configured")

// Store persists the controller configuration, the bypass list and the
// per-caller histories.
type Store interface {
	RateLimitConfigGet() (Config, bool, error)
	RateLimitConfigPut(cfg Config) error
	RateLimitWhitelistGet(addr common.Address) (bool, error)
	RateLimitWhitelistPut(addr common.Address, whitelisted bool) error
	CallerHistoryGet(addr common.Address) (*History, bool, error)
	CallerHistoryPut(addr common.Address, history *History) error
}

// Controller is the per-caller admission check run at the top of every
// mutating entry point.
type Controller struct {
	store    Store
	emitter  events.Emitter
	nowFn    func() uint64
	defaults Config
}

// NewController builds a controller falling back to DefaultConfig until an
// administrator stores one.
func NewController(store Store) *Controller {
	return &Controller{
		store:    store,
		emitter:  events.NoopEmitter{},
		nowFn:    func() uint64 { return uint64(time.Now().Unix()) },
		defaults: DefaultConfig(),
	}
}

func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

func (c *Controller) SetNowFunc(now func() uint64) {
	if now != nil {
		c.nowFn = now
	}
}

// SetDefaults replaces the configuration used when none has been stored.
func (c *Controller) SetDefaults(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.defaults = cfg
	return nil
}

// Config returns the effective configuration.
func (c *Controller) Config() (Config, error) {
	if c == nil || c.store == nil {
		return Config{}, errNilStore
	}
	cfg, ok, err := c.store.RateLimitConfigGet()
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return c.defaults, nil
	}
	return cfg, nil
}

// SetConfig stores a validated configuration.
func (c *Controller) SetConfig(cfg Config) error {
	if c == nil || c.store == nil {
		return errNilStore
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.store.RateLimitConfigPut(cfg); err != nil {
		return err
	}
	c.emitter.Emit(events.RateLimitConfigUpdated{
		WindowSize:     cfg.WindowSize,
		MaxOperations:  cfg.MaxOperations,
		CooldownPeriod: cfg.CooldownPeriod,
	})
	return nil
}

// SetWhitelist adds or removes a caller from the bypass list.
func (c *Controller) SetWhitelist(addr common.Address, whitelisted bool) error {
	if c == nil || c.store == nil {
		return errNilStore
	}
	if err := c.store.RateLimitWhitelistPut(addr, whitelisted); err != nil {
		return err
	}
	c.emitter.Emit(events.RateLimitWhitelistUpdated{Address: addr, Whitelisted: whitelisted})
	return nil
}

func (c *Controller) IsWhitelisted(addr common.Address) (bool, error) {
	if c == nil || c.store == nil {
		return false, errNilStore
	}
	return c.store.RateLimitWhitelistGet(addr)
}

// Check evaluates the caller against the window and cooldown without
// recording anything.
func (c *Controller) Check(caller common.Address) error {
	whitelisted, err := c.IsWhitelisted(caller)
	if err != nil || whitelisted {
		return err
	}
	cfg, err := c.Config()
	if err != nil {
		return err
	}
	history, err := c.history(caller, cfg)
	if err != nil {
		return err
	}
	return Evaluate(cfg, history, c.nowFn())
}

// Record appends the current timestamp to the caller's history. Whitelisted
// callers are never recorded.
func (c *Controller) Record(caller common.Address) error {
	whitelisted, err := c.IsWhitelisted(caller)
	if err != nil || whitelisted {
		return err
	}
	cfg, err := c.Config()
	if err != nil {
		return err
	}
	history, err := c.history(caller, cfg)
	if err != nil {
		return err
	}
	history.Push(c.nowFn())
	return c.store.CallerHistoryPut(caller, history)
}

// CheckAndRecord runs Check and, when admitted, Record.
func (c *Controller) CheckAndRecord(caller common.Address) error {
	if err := c.Check(caller); err != nil {
		return err
	}
	return c.Record(caller)
}

// CheckAll admits a set of callers together: either every caller passes or
// the first rejection is returned. Duplicate callers are evaluated once.
func (c *Controller) CheckAll(callers ...common.Address) error {
	seen := make(map[common.Address]struct{}, len(callers))
	for _, caller := range callers {
		if _, dup := seen[caller]; dup {
			continue
		}
		seen[caller] = struct{}{}
		if err := c.Check(caller); err != nil {
			return err
		}
	}
	return nil
}

// RecordAll records one operation for each distinct caller.
func (c *Controller) RecordAll(callers ...common.Address) error {
	seen := make(map[common.Address]struct{}, len(callers))
	for _, caller := range callers {
		if _, dup := seen[caller]; dup {
			continue
		}
		seen[caller] = struct{}{}
		if err := c.Record(caller); err != nil {
			return err
		}
	}
	return nil
}

// History returns the caller's recorded timestamps, oldest first.
func (c *Controller) History(caller common.Address) ([]uint64, error) {
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}
	history, err := c.history(caller, cfg)
	if err != nil {
		return nil, err
	}
	return history.Items(), nil
}

func (c *Controller) history(caller common.Address, cfg Config) (*History, error) {
	history, ok, err := c.store.CallerHistoryGet(caller)
	if err != nil {
		return nil, err
	}
	if !ok || history == nil {
		return NewHistory(cfg), nil
	}
	if history.Cap() != int(cfg.MaxOperations) {
		history = history.Resize(int(cfg.MaxOperations))
	}
	return history, nil
}
