package antiabuse

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/core/events"
)

type mockStore struct {
	cfg       *Config
	whitelist map[common.Address]bool
	histories map[common.Address]*History
}

func newMockStore() *mockStore {
	return &mockStore{
		whitelist: make(map[common.Address]bool),
		histories: make(map[common.Address]*History),
	}
}

func (m *mockStore) RateLimitConfigGet() (Config, bool, error) {
	if m.cfg == nil {
		return Config{}, false, nil
	}
	return *m.cfg, true, nil
}

func (m *mockStore) RateLimitConfigPut(cfg Config) error {
	m.cfg = &cfg
	return nil
}

func (m *mockStore) RateLimitWhitelistGet(addr common.Address) (bool, error) {
	return m.whitelist[addr], nil
}

func (m *mockStore) RateLimitWhitelistPut(addr common.Address, whitelisted bool) error {
	m.whitelist[addr] = whitelisted
	return nil
}

func (m *mockStore) CallerHistoryGet(addr common.Address) (*History, bool, error) {
	h, ok := m.histories[addr]
	if !ok {
		return nil, false, nil
	}
	return h.Clone(), true, nil
}

func (m *mockStore) CallerHistoryPut(addr common.Address, history *History) error {
	m.histories[addr] = history.Clone()
	return nil
}

func testAddress(fill byte) common.Address {
	return common.BytesToAddress(bytes.Repeat([]byte{fill}, common.AddressLength))
}

type clock struct{ now uint64 }

func (c *clock) Now() uint64 { return c.now }

func newTestController(t *testing.T, cfg Config) (*Controller, *mockStore, *clock) {
	t.Helper()
	store := newMockStore()
	ctrl := NewController(store)
	clk := &clock{now: 1_000_000}
	ctrl.SetNowFunc(clk.Now)
	if err := ctrl.SetConfig(cfg); err != nil {
		t.Fatalf("set config: %v", err)
	}
	return ctrl, store, clk
}

func TestDefaultsBeforeConfiguration(t *testing.T) {
	ctrl := NewController(newMockStore())
	cfg, err := ctrl.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestRateLimitExceededWithinWindow(t *testing.T) {
	ctrl, _, clk := newTestController(t, Config{WindowSize: 3600, MaxOperations: 2, CooldownPeriod: 0})
	caller := testAddress(0x01)
	for i := 0; i < 2; i++ {
		if err := ctrl.CheckAndRecord(caller); err != nil {
			t.Fatalf("operation %d: %v", i, err)
		}
		clk.now += 10
	}
	err := ctrl.CheckAndRecord(caller)
	if !errors.Is(err, escrowerr.ErrRateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
	if err.Error() != "Rate limit exceeded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	clk.now += 3600
	if err := ctrl.CheckAndRecord(caller); err != nil {
		t.Fatalf("expected window to slide, got %v", err)
	}
}

func TestCooldownCheckedFirst(t *testing.T) {
	ctrl, _, clk := newTestController(t, Config{WindowSize: 3600, MaxOperations: 1, CooldownPeriod: 60})
	caller := testAddress(0x02)
	if err := ctrl.CheckAndRecord(caller); err != nil {
		t.Fatalf("first: %v", err)
	}
	clk.now += 59
	err := ctrl.Check(caller)
	if !errors.Is(err, escrowerr.ErrCooldownViolation) {
		t.Fatalf("expected CooldownViolation, got %v", err)
	}
	if err.Error() != "Operation in cooldown period" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	clk.now++
	if err := ctrl.Check(caller); !errors.Is(err, escrowerr.ErrRateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded after cooldown, got %v", err)
	}
}

func TestWhitelistedCallersBypassAndAreNotRecorded(t *testing.T) {
	ctrl, store, _ := newTestController(t, Config{WindowSize: 3600, MaxOperations: 1, CooldownPeriod: 60})
	caller := testAddress(0x03)
	if err := ctrl.SetWhitelist(caller, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := ctrl.CheckAndRecord(caller); err != nil {
			t.Fatalf("whitelisted operation %d rejected: %v", i, err)
		}
	}
	if _, ok := store.histories[caller]; ok {
		t.Fatalf("whitelisted caller must not be recorded")
	}
	if err := ctrl.SetWhitelist(caller, false); err != nil {
		t.Fatalf("unwhitelist: %v", err)
	}
	if err := ctrl.CheckAndRecord(caller); err != nil {
		t.Fatalf("first limited op: %v", err)
	}
	if err := ctrl.Check(caller); err == nil {
		t.Fatalf("expected limit after removing from whitelist")
	}
}

func TestCheckDoesNotRecord(t *testing.T) {
	ctrl, _, _ := newTestController(t, Config{WindowSize: 3600, MaxOperations: 1, CooldownPeriod: 0})
	caller := testAddress(0x04)
	for i := 0; i < 3; i++ {
		if err := ctrl.Check(caller); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	history, err := ctrl.History(caller)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}
}

func TestCheckAllIsAllOrNothing(t *testing.T) {
	ctrl, _, _ := newTestController(t, Config{WindowSize: 3600, MaxOperations: 1, CooldownPeriod: 0})
	a, b := testAddress(0x05), testAddress(0x06)
	if err := ctrl.CheckAndRecord(b); err != nil {
		t.Fatalf("prime b: %v", err)
	}
	if err := ctrl.CheckAll(a, b); !errors.Is(err, escrowerr.ErrRateLimitExceeded) {
		t.Fatalf("expected rejection for b, got %v", err)
	}
	history, _ := ctrl.History(a)
	if len(history) != 0 {
		t.Fatalf("a must not be recorded when the set is rejected")
	}
	if err := ctrl.CheckAll(a, a); err != nil {
		t.Fatalf("duplicate caller should be evaluated once: %v", err)
	}
	if err := ctrl.RecordAll(a, a); err != nil {
		t.Fatalf("record all: %v", err)
	}
	history, _ = ctrl.History(a)
	if len(history) != 1 {
		t.Fatalf("expected one recorded op, got %v", history)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	ctrl, store, clk := newTestController(t, Config{WindowSize: 10, MaxOperations: 3, CooldownPeriod: 0})
	caller := testAddress(0x07)
	for i := 0; i < 20; i++ {
		if err := ctrl.CheckAndRecord(caller); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		clk.now += 11
	}
	if got := store.histories[caller].Len(); got != 3 {
		t.Fatalf("expected history bounded to 3, got %d", got)
	}
	if err := ctrl.SetConfig(Config{WindowSize: 10, MaxOperations: 2, CooldownPeriod: 0}); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	history, _ := ctrl.History(caller)
	if len(history) != 2 {
		t.Fatalf("expected history resized to 2, got %d", len(history))
	}
}

func TestInvalidConfig(t *testing.T) {
	ctrl := NewController(newMockStore())
	for _, cfg := range []Config{
		{WindowSize: 0, MaxOperations: 1},
		{WindowSize: 1, MaxOperations: 0},
		{WindowSize: 1, MaxOperations: MaxTrackedOperations + 1},
	} {
		if err := ctrl.SetConfig(cfg); !errors.Is(err, escrowerr.ErrInvalidConfig) {
			t.Fatalf("expected InvalidConfig for %+v, got %v", cfg, err)
		}
	}
}

func TestConfigEvents(t *testing.T) {
	ctrl := NewController(newMockStore())
	rec := events.NewRecorder(0)
	ctrl.SetEmitter(rec)
	_ = ctrl.SetConfig(Config{WindowSize: 60, MaxOperations: 5, CooldownPeriod: 1})
	_ = ctrl.SetWhitelist(testAddress(0x08), true)
	got := rec.Types()
	if len(got) != 2 || got[0] != events.TypeAntiAbuseConfigUpdated || got[1] != events.TypeAntiAbuseWhitelistUpdated {
		t.Fatalf("unexpected events %v", got)
	}
}
