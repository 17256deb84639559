package bank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/native/escrow"
)

// Store persists token balances keyed by token and holder.
type Store interface {
	BalanceGet(token, holder common.Address) (*big.Int, error)
	BalancePut(token, holder common.Address, amount *big.Int) error
}

// Ledger is a multi-token balance book. Balances are bounded by 2^256-1 and
// every debit and credit is overflow checked.
type Ledger struct {
	mu    sync.Mutex
	store Store
}

// NewLedger creates a ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Resolve implements escrow.TokenResolver. Every address resolves to an asset
// view of the ledger; unknown tokens simply start with empty balances.
func (l *Ledger) Resolve(token common.Address) (escrow.Token, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: store not configured")
	}
	return &Asset{ledger: l, token: token}, nil
}

// Asset returns the transfer client for token.
func (l *Ledger) Asset(token common.Address) *Asset {
	return &Asset{ledger: l, token: token}
}

func (l *Ledger) balance(token, holder common.Address) (*uint256.Int, error) {
	raw, err := l.store.BalanceGet(token, holder)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return new(uint256.Int), nil
	}
	bal, overflow := uint256.FromBig(raw)
	if overflow || raw.Sign() < 0 {
		return nil, fmt.Errorf("bank: stored balance of %s out of range", holder.Hex())
	}
	return bal, nil
}

func toAmount(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, escrowerr.ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, escrowerr.ErrInvalidAmount.Wrapf("amount %s exceeds 256 bits", amount)
	}
	return v, nil
}

// Balance returns the holder's balance of token.
func (l *Ledger) Balance(token, holder common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.balance(token, holder)
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) error {
	v, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.balance(token, holder)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, v)
	if overflow {
		return fmt.Errorf("bank: balance of %s overflows", holder.Hex())
	}
	return l.store.BalancePut(token, holder, next.ToBig())
}

// Transfer moves amount of token from one holder to another. The debit and
// credit are validated before either is written.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	v, err := toAmount(amount)
	if err != nil {
		return err
	}
	if v.IsZero() || from == to {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBal, err := l.balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(v) {
		return escrowerr.ErrInsufficientBalance.Wrapf("%s holds %s, needs %s", from.Hex(), fromBal.Dec(), v.Dec())
	}
	toBal, err := l.balance(token, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, v)
	if overflow {
		return fmt.Errorf("bank: balance of %s overflows", to.Hex())
	}
	debited := new(uint256.Int).Sub(fromBal, v)
	if err := l.store.BalancePut(token, from, debited.ToBig()); err != nil {
		return err
	}
	if err := l.store.BalancePut(token, to, credited.ToBig()); err != nil {
		if rollback := l.store.BalancePut(token, from, fromBal.ToBig()); rollback != nil {
			return fmt.Errorf("bank: credit failed (%v), rollback failed: %w", err, rollback)
		}
		return err
	}
	return nil
}

// Asset binds the ledger to one token and satisfies escrow.Token.
type Asset struct {
	ledger *Ledger
	token  common.Address
}

// Token returns the token address the asset is bound to.
func (a *Asset) Token() common.Address { return a.token }

func (a *Asset) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	return a.ledger.Transfer(a.token, from, to, amount)
}

func (a *Asset) Balance(_ context.Context, holder common.Address) (*big.Int, error) {
	return a.ledger.Balance(a.token, holder)
}
