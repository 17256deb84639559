package escrowd

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"bountyescrow/native/program"
)

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "list_programs", func(context.Context) (interface{}, error) {
		ids, err := s.engine.ListPrograms()
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return map[string][]string{"programs": ids}, nil
	})
}

type initProgramRequest struct {
	ID        string `json:"id"`
	PayoutKey string `json:"payoutKey"`
}

func (s *Server) handleInitProgram(w http.ResponseWriter, r *http.Request) {
	var req initProgramRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	payoutKey, err := parseAddress("payoutKey", req.PayoutKey)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusCreated, "init_program", func(ctx context.Context) (interface{}, error) {
		p, err := s.engine.InitProgram(ctx, req.ID, payoutKey)
		if err != nil {
			return nil, err
		}
		return newProgramView(p), nil
	})
}

func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	s.respond(w, r, http.StatusOK, "get_program", func(context.Context) (interface{}, error) {
		p, err := s.engine.GetProgramInfo(id)
		if err != nil {
			return nil, err
		}
		return newProgramView(p), nil
	})
}

type lockProgramRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) handleLockProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	var req lockProgramRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "lock_program", func(ctx context.Context) (interface{}, error) {
		p, err := s.engine.LockProgramFunds(ctx, id, from, amount)
		if err != nil {
			return nil, err
		}
		return newProgramView(p), nil
	})
}

type payoutRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleSinglePayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	var req payoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "single_payout", func(ctx context.Context) (interface{}, error) {
		p, err := s.engine.SinglePayout(ctx, id, recipient, amount)
		if err != nil {
			return nil, err
		}
		return newProgramView(p), nil
	})
}

type batchPayoutRequest struct {
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

func (s *Server) handleBatchPayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	var req batchPayoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipients := make([]common.Address, 0, len(req.Recipients))
	for i, raw := range req.Recipients {
		addr, err := parseAddress(fmt.Sprintf("recipients[%d]", i), raw)
		if err != nil {
			writeError(w, err)
			return
		}
		recipients = append(recipients, addr)
	}
	amounts := make([]*big.Int, 0, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseAmount(fmt.Sprintf("amounts[%d]", i), raw)
		if err != nil {
			writeError(w, err)
			return
		}
		amounts = append(amounts, amount)
	}
	s.respond(w, r, http.StatusOK, "batch_payout", func(ctx context.Context) (interface{}, error) {
		p, err := s.engine.BatchPayout(ctx, id, recipients, amounts)
		if err != nil {
			return nil, err
		}
		return newProgramView(p), nil
	})
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "get_fees", func(context.Context) (interface{}, error) {
		cfg, err := s.engine.GetFeeConfig()
		if err != nil {
			return nil, err
		}
		return newFeeView(cfg), nil
	})
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req feeView
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := program.FeeConfig{
		LockFeeRate:   req.LockFeeRate,
		PayoutFeeRate: req.PayoutFeeRate,
		Recipient:     recipient,
		Enabled:       req.Enabled,
	}
	s.respond(w, r, http.StatusOK, "update_fees", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.UpdateFeeConfig(ctx, cfg); err != nil {
			return nil, err
		}
		return newFeeView(cfg), nil
	})
}

func (s *Server) handleGetMultisig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	s.respond(w, r, http.StatusOK, "get_multisig", func(context.Context) (interface{}, error) {
		cfg, err := s.engine.GetMultisigConfig(id)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, fmt.Errorf("%w: program %s has no multisig config", errNotFound, id)
		}
		return multisigView{
			Threshold:         amountString(cfg.Threshold),
			Signers:           hexList(cfg.Signers),
			RequiredApprovals: cfg.RequiredApprovals,
		}, nil
	})
}

func (s *Server) handleSetMultisig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	var req multisigView
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	threshold, err := parseAmount("threshold", req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	signers := make([]common.Address, 0, len(req.Signers))
	for i, raw := range req.Signers {
		addr, err := parseAddress(fmt.Sprintf("signers[%d]", i), raw)
		if err != nil {
			writeError(w, err)
			return
		}
		signers = append(signers, addr)
	}
	s.respond(w, r, http.StatusOK, "update_multisig", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.UpdateMultisigConfig(ctx, id, threshold, signers, req.RequiredApprovals); err != nil {
			return nil, err
		}
		cfg, err := s.engine.GetMultisigConfig(id)
		if err != nil {
			return nil, err
		}
		return multisigView{
			Threshold:         amountString(cfg.Threshold),
			Signers:           hexList(cfg.Signers),
			RequiredApprovals: cfg.RequiredApprovals,
		}, nil
	})
}

type approveRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Approver  string `json:"approver"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	var req approveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	approver, err := parseAddress("approver", req.Approver)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "approve_payout", func(ctx context.Context) (interface{}, error) {
		n, err := s.engine.ApproveLargePayout(ctx, id, recipient, amount, approver)
		if err != nil {
			return nil, err
		}
		return map[string]int{"approvals": n}, nil
	})
}

func (s *Server) handleGetApprovals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	recipient, err := pathAddress(r, "recipient")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "get_approvals", func(context.Context) (interface{}, error) {
		approval, ok, err := s.engine.GetApprovals(id, recipient)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no approvals for %s", errNotFound, recipient.Hex())
		}
		return approvalView{
			Recipient: approval.Recipient.Hex(),
			Amount:    amountString(approval.Amount),
			Approvers: hexList(approval.Approvers),
		}, nil
	})
}

type scheduleRequest struct {
	Amount    string `json:"amount"`
	ReleaseAt uint64 `json:"releaseAt"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusCreated, "create_schedule", func(ctx context.Context) (interface{}, error) {
		schedule, err := s.engine.CreateReleaseSchedule(ctx, id, amount, req.ReleaseAt, recipient)
		if err != nil {
			return nil, err
		}
		return newScheduleView(schedule), nil
	})
}

// handleListSchedules accepts ?filter=pending|due.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	filter := strings.ToLower(r.URL.Query().Get("filter"))
	s.respond(w, r, http.StatusOK, "list_schedules", func(context.Context) (interface{}, error) {
		var (
			list []*program.Schedule
			err  error
		)
		switch filter {
		case "":
			list, err = s.engine.ListReleaseSchedules(id)
		case "pending":
			list, err = s.engine.PendingSchedules(id)
		case "due":
			list, err = s.engine.DueSchedules(id)
		default:
			return nil, fmt.Errorf("%w: unknown filter %q", errBadRequest, filter)
		}
		if err != nil {
			return nil, err
		}
		return newScheduleViews(list), nil
	})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	sid, err := pathUint(r, "sid")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "get_schedule", func(context.Context) (interface{}, error) {
		schedule, err := s.engine.GetReleaseSchedule(id, sid)
		if err != nil {
			return nil, err
		}
		return newScheduleView(schedule), nil
	})
}

type releaseScheduleRequest struct {
	// Caller requests an automatic release once the schedule is due. Without
	// it the payout key releases manually.
	Caller string `json:"caller,omitempty"`
}

func (s *Server) handleReleaseSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	sid, err := pathUint(r, "sid")
	if err != nil {
		writeError(w, err)
		return
	}
	var req releaseScheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var caller *common.Address
	if strings.TrimSpace(req.Caller) != "" {
		addr, err := parseAddress("caller", req.Caller)
		if err != nil {
			writeError(w, err)
			return
		}
		caller = &addr
	}
	s.respond(w, r, http.StatusOK, "release_schedule", func(ctx context.Context) (interface{}, error) {
		var (
			schedule *program.Schedule
			err      error
		)
		if caller != nil {
			schedule, err = s.engine.ReleaseScheduleAutomatic(ctx, id, sid, *caller)
		} else {
			schedule, err = s.engine.ReleaseScheduleManual(ctx, id, sid)
		}
		if err != nil {
			return nil, err
		}
		return newScheduleView(schedule), nil
	})
}

func (s *Server) handleReleaseHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pid")
	s.respond(w, r, http.StatusOK, "release_history", func(context.Context) (interface{}, error) {
		history, err := s.engine.ReleaseHistory(id)
		if err != nil {
			return nil, err
		}
		return newReleaseViews(history), nil
	})
}
