// Package auth carries the set of addresses that authorised a request and
// checks engine operations against it.
package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	escrowerr "bountyescrow/core/errors"
)

type contextKey string

const signersKey contextKey = "escrow.signers"

// Authorizer decides whether addr authorised the operation carried by ctx.
type Authorizer interface {
	RequireAuth(ctx context.Context, addr common.Address) error
}

// WithSigners returns a context recording addrs as signers of the request.
// Signers already present are kept.
func WithSigners(ctx context.Context, addrs ...common.Address) context.Context {
	existing := SignersFrom(ctx)
	merged := make([]common.Address, 0, len(existing)+len(addrs))
	merged = append(merged, existing...)
	merged = append(merged, addrs...)
	return context.WithValue(ctx, signersKey, merged)
}

// SignersFrom returns the signers recorded on ctx.
func SignersFrom(ctx context.Context) []common.Address {
	if ctx == nil {
		return nil
	}
	signers, _ := ctx.Value(signersKey).([]common.Address)
	return signers
}

// ContextAuthorizer accepts an address when it is one of the context signers.
type ContextAuthorizer struct{}

func (ContextAuthorizer) RequireAuth(ctx context.Context, addr common.Address) error {
	for _, signer := range SignersFrom(ctx) {
		if signer == addr {
			return nil
		}
	}
	return escrowerr.ErrUnauthorized.Wrapf("%s did not authorise the request", addr.Hex())
}

// AllowAll accepts every address. It is meant for embedding hosts that have
// already verified signatures.
type AllowAll struct{}

func (AllowAll) RequireAuth(context.Context, common.Address) error { return nil }
