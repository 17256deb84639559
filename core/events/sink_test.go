package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRecorderBounded(t *testing.T) {
	rec := NewRecorder(2)
	rec.Emit(ClaimWindowUpdated{Window: 1})
	rec.Emit(ClaimWindowUpdated{Window: 2})
	rec.Emit(WhitelistModeChanged{Enabled: true})
	types := rec.Types()
	if len(types) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(types))
	}
	if types[1] != TypeComplianceWhitelistMode {
		t.Fatalf("unexpected newest event %q", types[1])
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected empty recorder after reset")
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	Multi{a, nil, b}.Emit(FundsLocked{BountyID: 1, Amount: big.NewInt(5)})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected both recorders to receive the event")
	}
}

func TestFlattenAttributes(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := Flatten(ComplianceListChanged{Address: addr, Blacklist: true, Added: true, Reason: "sanctioned"})
	if evt.Type != TypeComplianceBlacklistAdded {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Attributes["reason"] != "sanctioned" {
		t.Fatalf("missing reason attribute: %v", evt.Attributes)
	}
	if evt.Attributes["address"] != addr.Hex() {
		t.Fatalf("unexpected address %q", evt.Attributes["address"])
	}
	removed := Flatten(ComplianceListChanged{Address: addr, Added: false})
	if removed.Type != TypeComplianceWhitelistRemoved {
		t.Fatalf("unexpected type %q", removed.Type)
	}
}

func TestCircuitTransitionTypes(t *testing.T) {
	cases := map[string]string{
		"open":      TypeCircuitOpened,
		"half_open": TypeCircuitHalfOpen,
		"closed":    TypeCircuitClosed,
	}
	for to, want := range cases {
		if got := (CircuitTransition{To: to}).EventType(); got != want {
			t.Fatalf("transition to %s: expected %s, got %s", to, want, got)
		}
	}
}
