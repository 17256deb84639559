package escrowd

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/native/escrow"
)

type initRequest struct {
	Admin string `json:"admin"`
	Token string `json:"token"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	admin, err := parseAddress("admin", req.Admin)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusCreated, "init", func(ctx context.Context) (interface{}, error) {
		policy, err := s.bootstrap.policy()
		if err != nil {
			return nil, err
		}
		if err := s.engine.Init(ctx, admin, token); err != nil {
			return nil, err
		}
		if err := s.applyBootstrap(policy); err != nil {
			return nil, err
		}
		return map[string]string{"admin": admin.Hex(), "token": token.Hex()}, nil
	})
}

// applyBootstrap writes the configured claim window and the already validated
// amount policy right after initialisation. Caller holds s.mu.
func (s *Server) applyBootstrap(policy *escrow.AmountPolicy) error {
	ledger := s.engine.Escrow()
	if s.bootstrap.HasClaimWindow {
		if err := ledger.SetClaimWindow(s.bootstrap.ClaimWindow); err != nil {
			return err
		}
	}
	if policy != nil {
		if err := ledger.SetAmountPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "admin", func(context.Context) (interface{}, error) {
		admin, err := s.engine.Admin()
		if err != nil {
			return nil, err
		}
		return map[string]string{"admin": admin.Hex()}, nil
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "balance", func(ctx context.Context) (interface{}, error) {
		balance, err := s.engine.GetBalance(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"balance": balance.String()}, nil
	})
}

type faucetRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "faucet", func(context.Context) (interface{}, error) {
		if s.ledger == nil {
			return nil, fmt.Errorf("%w: faucet has no ledger", errNotFound)
		}
		settings, err := s.engine.Escrow().Settings()
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Mint(settings.Token, holder, amount); err != nil {
			return nil, err
		}
		balance, err := s.ledger.Balance(settings.Token, holder)
		if err != nil {
			return nil, err
		}
		return map[string]string{"holder": holder.Hex(), "balance": balance.String()}, nil
	})
}

type lockRequest struct {
	BountyID  uint64 `json:"bountyId"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
	Deadline  uint64 `json:"deadline"`
}

func (req lockRequest) item() (escrow.LockItem, error) {
	depositor, err := parseAddress("depositor", req.Depositor)
	if err != nil {
		return escrow.LockItem{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return escrow.LockItem{}, err
	}
	return escrow.LockItem{BountyID: req.BountyID, Depositor: depositor, Amount: amount, Deadline: req.Deadline}, nil
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := req.item()
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusCreated, "lock", func(ctx context.Context) (interface{}, error) {
		record, err := s.engine.LockFunds(ctx, item.Depositor, item.BountyID, item.Amount, item.Deadline)
		if err != nil {
			return nil, err
		}
		return newEscrowView(record), nil
	})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "get_escrow", func(context.Context) (interface{}, error) {
		record, err := s.engine.GetEscrowInfo(id)
		if err != nil {
			return nil, err
		}
		return newEscrowView(record), nil
	})
}

type releaseRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req releaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "release", func(ctx context.Context) (interface{}, error) {
		record, err := s.engine.ReleaseFunds(ctx, id, recipient)
		if err != nil {
			return nil, err
		}
		return newEscrowView(record), nil
	})
}

type refundRequest struct {
	Mode      string `json:"mode"`
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

func (req refundRequest) options() (escrow.RefundOptions, error) {
	var opts escrow.RefundOptions
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", "full":
		opts.Mode = escrow.RefundFull
	case "partial":
		opts.Mode = escrow.RefundPartial
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return opts, err
		}
		opts.Amount = amount
	default:
		return opts, fmt.Errorf("%w: unknown refund mode %q", errBadRequest, req.Mode)
	}
	if strings.TrimSpace(req.Recipient) != "" {
		recipient, err := parseAddress("recipient", req.Recipient)
		if err != nil {
			return opts, err
		}
		opts.Recipient = &recipient
	}
	return opts, nil
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req refundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "refund", func(ctx context.Context) (interface{}, error) {
		record, err := s.engine.Refund(ctx, id, opts)
		if err != nil {
			return nil, err
		}
		return newEscrowView(record), nil
	})
}

type batchLockRequest struct {
	Items []lockRequest `json:"items"`
}

func (s *Server) checkBatch(n int) error {
	if n == 0 || n > s.bootstrap.MaxBatchSize {
		return escrowerr.ErrInvalidBatchSize.Wrapf("size %d not within 1..%d", n, s.bootstrap.MaxBatchSize)
	}
	return nil
}

func (s *Server) handleBatchLock(w http.ResponseWriter, r *http.Request) {
	var req batchLockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkBatch(len(req.Items)); err != nil {
		writeError(w, err)
		return
	}
	items := make([]escrow.LockItem, 0, len(req.Items))
	for _, raw := range req.Items {
		item, err := raw.item()
		if err != nil {
			writeError(w, err)
			return
		}
		items = append(items, item)
	}
	s.respond(w, r, http.StatusOK, "batch_lock", func(ctx context.Context) (interface{}, error) {
		n, err := s.engine.BatchLockFunds(ctx, items)
		if err != nil {
			return nil, err
		}
		return map[string]int{"count": n}, nil
	})
}

type batchReleaseRequest struct {
	Items []struct {
		BountyID  uint64 `json:"bountyId"`
		Recipient string `json:"recipient"`
	} `json:"items"`
}

func (s *Server) handleBatchRelease(w http.ResponseWriter, r *http.Request) {
	var req batchReleaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkBatch(len(req.Items)); err != nil {
		writeError(w, err)
		return
	}
	items := make([]escrow.ReleaseItem, 0, len(req.Items))
	for _, raw := range req.Items {
		recipient, err := parseAddress("recipient", raw.Recipient)
		if err != nil {
			writeError(w, err)
			return
		}
		items = append(items, escrow.ReleaseItem{BountyID: raw.BountyID, Recipient: recipient})
	}
	s.respond(w, r, http.StatusOK, "batch_release", func(ctx context.Context) (interface{}, error) {
		n, err := s.engine.BatchReleaseFunds(ctx, items)
		if err != nil {
			return nil, err
		}
		return map[string]int{"count": n}, nil
	})
}

type authorizeClaimRequest struct {
	Recipient string  `json:"recipient"`
	Window    *uint64 `json:"window,omitempty"`
}

func (s *Server) handleAuthorizeClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req authorizeClaimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusCreated, "authorize_claim", func(ctx context.Context) (interface{}, error) {
		claim, err := s.engine.AuthorizeClaim(ctx, id, recipient, req.Window)
		if err != nil {
			return nil, err
		}
		return newClaimView(claim), nil
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "claim", func(ctx context.Context) (interface{}, error) {
		claim, err := s.engine.Claim(ctx, id)
		if err != nil {
			return nil, err
		}
		return newClaimView(claim), nil
	})
}

func (s *Server) handleCancelClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, "cancel_claim", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.CancelPendingClaim(ctx, id)
	})
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "get_claim", func(context.Context) (interface{}, error) {
		claim, err := s.engine.GetPendingClaim(id)
		if err != nil {
			return nil, err
		}
		return newClaimView(claim), nil
	})
}

type claimWindowBody struct {
	Seconds uint64 `json:"seconds"`
}

func (s *Server) handleGetClaimWindow(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "get_claim_window", func(context.Context) (interface{}, error) {
		seconds, err := s.engine.GetClaimWindow()
		if err != nil {
			return nil, err
		}
		return claimWindowBody{Seconds: seconds}, nil
	})
}

func (s *Server) handleSetClaimWindow(w http.ResponseWriter, r *http.Request) {
	var req claimWindowBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "set_claim_window", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.SetClaimWindow(ctx, req.Seconds); err != nil {
			return nil, err
		}
		return req, nil
	})
}

type amountPolicyBody struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

func (s *Server) handleGetAmountPolicy(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "get_amount_policy", func(context.Context) (interface{}, error) {
		policy, err := s.engine.GetAmountPolicy()
		if err != nil {
			return nil, err
		}
		if policy == nil {
			return map[string]interface{}{"policy": nil}, nil
		}
		return amountPolicyBody{Min: amountString(policy.Min), Max: amountString(policy.Max)}, nil
	})
}

func (s *Server) handleSetAmountPolicy(w http.ResponseWriter, r *http.Request) {
	var req amountPolicyBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var lower, upper *big.Int
	var err error
	if lower, err = parseAmount("min", req.Min); err != nil {
		writeError(w, err)
		return
	}
	if upper, err = parseAmount("max", req.Max); err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "set_amount_policy", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.SetAmountPolicy(ctx, lower, upper); err != nil {
			return nil, err
		}
		return amountPolicyBody{Min: lower.String(), Max: upper.String()}, nil
	})
}
