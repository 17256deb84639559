package escrowd

import (
	"context"
	"net/http"

	"bountyescrow/native/circuit"
)

func (s *Server) handleGetRateLimit(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "get_rate_limit", func(context.Context) (interface{}, error) {
		cfg, err := s.engine.GetRateLimitConfig()
		if err != nil {
			return nil, err
		}
		return newRateLimitView(cfg), nil
	})
}

func (s *Server) handleSetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitView
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "update_rate_limit", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.UpdateRateLimitConfig(ctx, req.WindowSize, req.MaxOperations, req.CooldownPeriod); err != nil {
			return nil, err
		}
		return req, nil
	})
}

type flagBody struct {
	Whitelisted *bool `json:"whitelisted,omitempty"`
	Enabled     *bool `json:"enabled,omitempty"`
}

func (s *Server) handleIsRateWhitelisted(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "is_whitelisted", func(context.Context) (interface{}, error) {
		ok, err := s.engine.IsWhitelisted(addr)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"whitelisted": ok}, nil
	})
}

func (s *Server) handleSetRateWhitelist(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	var req flagBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	whitelisted := req.Whitelisted != nil && *req.Whitelisted
	s.respond(w, r, http.StatusOK, "set_whitelist", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.SetWhitelist(ctx, addr, whitelisted); err != nil {
			return nil, err
		}
		return map[string]bool{"whitelisted": whitelisted}, nil
	})
}

func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "circuit_status", func(context.Context) (interface{}, error) {
		status, err := s.engine.GetCircuitStatus()
		if err != nil {
			return nil, err
		}
		return newCircuitView(status), nil
	})
}

func (s *Server) handleCircuitErrors(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "circuit_errors", func(context.Context) (interface{}, error) {
		entries, err := s.engine.GetCircuitErrorLog()
		if err != nil {
			return nil, err
		}
		out := make([]errorEntryView, 0, len(entries))
		for _, entry := range entries {
			out = append(out, errorEntryView{
				ProgramID: entry.ProgramID,
				Operation: entry.Operation,
				ErrorCode: entry.ErrorCode,
				Timestamp: entry.Timestamp,
			})
		}
		return out, nil
	})
}

func (s *Server) handleConfigureCircuit(w http.ResponseWriter, r *http.Request) {
	var req circuitConfigView
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cfg := circuit.Config{
		FailureThreshold: req.FailureThreshold,
		SuccessThreshold: req.SuccessThreshold,
		MaxErrorLog:      req.MaxErrorLog,
	}
	s.respond(w, r, http.StatusOK, "configure_circuit", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.ConfigureCircuitBreaker(ctx, cfg); err != nil {
			return nil, err
		}
		return req, nil
	})
}

func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "reset_circuit", func(ctx context.Context) (interface{}, error) {
		state, err := s.engine.ResetCircuitBreaker(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"state": state.String()}, nil
	})
}

func (s *Server) handleOpenCircuit(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, "open_circuit", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.EmergencyOpenCircuit(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"state": circuit.StateOpen.String()}, nil
	})
}

func (s *Server) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusOK, "compliance_status", func(context.Context) (interface{}, error) {
		blacklisted, err := s.engine.IsBlacklisted(addr)
		if err != nil {
			return nil, err
		}
		whitelisted, err := s.engine.IsComplianceWhitelisted(addr)
		if err != nil {
			return nil, err
		}
		allowed, err := s.engine.IsParticipantAllowed(addr)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"address":     addr.Hex(),
			"blacklisted": blacklisted,
			"whitelisted": whitelisted,
			"allowed":     allowed,
		}, nil
	})
}

type listEntryBody struct {
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req listEntryBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, "add_blacklist", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.AddToBlacklist(ctx, addr, req.Reason)
	})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, "remove_blacklist", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.RemoveFromBlacklist(ctx, addr)
	})
}

func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req listEntryBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, "add_whitelist", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.AddToWhitelist(ctx, addr)
	})
}

func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, http.StatusNoContent, "remove_whitelist", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.RemoveFromWhitelist(ctx, addr)
	})
}

func (s *Server) handleWhitelistMode(w http.ResponseWriter, r *http.Request) {
	var req flagBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	enabled := req.Enabled != nil && *req.Enabled
	s.respond(w, r, http.StatusOK, "whitelist_mode", func(ctx context.Context) (interface{}, error) {
		if err := s.engine.SetWhitelistMode(ctx, enabled); err != nil {
			return nil, err
		}
		return map[string]bool{"enabled": enabled}, nil
	})
}
