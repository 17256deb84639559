package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type mockStore struct {
	balances map[balanceKey]*big.Int
	failPut  *common.Address
}

func newMockStore() *mockStore {
	return &mockStore{balances: make(map[balanceKey]*big.Int)}
}

func (m *mockStore) BalanceGet(token, holder common.Address) (*big.Int, error) {
	bal, ok := m.balances[balanceKey{token, holder}]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *mockStore) BalancePut(token, holder common.Address, amount *big.Int) error {
	if m.failPut != nil && *m.failPut == holder {
		return errors.New("disk full")
	}
	m.balances[balanceKey{token, holder}] = new(big.Int).Set(amount)
	return nil
}

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	other = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestTransferMovesBalances(t *testing.T) {
	ledger := NewLedger(newMockStore())
	if err := ledger.Mint(usdc, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(usdc, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.Balance(usdc, alice)
	bobBal, _ := ledger.Balance(usdc, bob)
	if aliceBal.Int64() != 600 || bobBal.Int64() != 400 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	otherBal, _ := ledger.Balance(other, bob)
	if otherBal.Sign() != 0 {
		t.Fatalf("tokens must not share balances")
	}
}

func TestTransferRejectsOverdraft(t *testing.T) {
	ledger := NewLedger(newMockStore())
	_ = ledger.Mint(usdc, alice, big.NewInt(10))
	err := ledger.Transfer(usdc, alice, bob, big.NewInt(11))
	if !escrowerr.Is(err, escrowerr.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	err = ledger.Transfer(usdc, alice, bob, big.NewInt(-1))
	if !escrowerr.Is(err, escrowerr.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestMintOverflow(t *testing.T) {
	ledger := NewLedger(newMockStore())
	ceiling := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := ledger.Mint(usdc, alice, ceiling); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := ledger.Mint(usdc, alice, big.NewInt(1)); err == nil {
		t.Fatalf("expected overflow")
	}
	if err := ledger.Mint(usdc, alice, new(big.Int).Lsh(big.NewInt(1), 256)); !escrowerr.Is(err, escrowerr.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount for 2^256, got %v", err)
	}
}

func TestFailedCreditRollsBackDebit(t *testing.T) {
	store := newMockStore()
	ledger := NewLedger(store)
	_ = ledger.Mint(usdc, alice, big.NewInt(100))
	store.failPut = &bob
	if err := ledger.Transfer(usdc, alice, bob, big.NewInt(50)); err == nil {
		t.Fatalf("expected credit failure")
	}
	bal, _ := ledger.Balance(usdc, alice)
	if bal.Int64() != 100 {
		t.Fatalf("debit not rolled back: %s", bal)
	}
}

func TestResolveSatisfiesToken(t *testing.T) {
	ledger := NewLedger(newMockStore())
	_ = ledger.Mint(usdc, alice, big.NewInt(5))
	token, err := ledger.Resolve(usdc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ctx := context.Background()
	if err := token.Transfer(ctx, alice, bob, big.NewInt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	bal, _ := token.Balance(ctx, bob)
	if bal.Int64() != 5 {
		t.Fatalf("unexpected balance %s", bal)
	}
}
