package escrowd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	escrowerr "bountyescrow/core/errors"
	"bountyescrow/native/bank"
	"bountyescrow/native/bounty"
	"bountyescrow/native/escrow"
	"bountyescrow/observability"
	telemetry "bountyescrow/observability/otel"
)

// Bootstrap holds engine settings applied when the escrow is initialised
// through the API. ClaimWindow is only applied when HasClaimWindow is set, so
// zero stays expressible. The amount bounds come as a pair or not at all.
type Bootstrap struct {
	ClaimWindow    uint64
	HasClaimWindow bool
	MaxBatchSize   int
	MinAmount      *big.Int
	MaxAmount      *big.Int
}

// policy returns the configured amount policy, nil when no bounds are set.
func (b Bootstrap) policy() (*escrow.AmountPolicy, error) {
	if b.MinAmount == nil && b.MaxAmount == nil {
		return nil, nil
	}
	policy := &escrow.AmountPolicy{Min: b.MinAmount, Max: b.MaxAmount}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("escrowd: bootstrap amount policy: %w", err)
	}
	return policy, nil
}

// Options wires the service dependencies.
type Options struct {
	Engine        *bounty.Engine
	Ledger        *bank.Ledger
	Audit         *AuditStore
	Hub           *Hub
	Idempotency   *IdempotencyStore
	Auth          *Authenticator
	RateLimiter   *RateLimiter
	Logger        *slog.Logger
	Bootstrap     Bootstrap
	Faucet        bool
	ExportDir     string
	StreamTimeout time.Duration
}

// Server is the HTTP front-end of the escrow engine. Engine calls run one at a
// time under mu.
type Server struct {
	mu            sync.Mutex
	engine        *bounty.Engine
	ledger        *bank.Ledger
	audit         *AuditStore
	hub           *Hub
	idempotency   *IdempotencyStore
	auth          *Authenticator
	limiter       *RateLimiter
	logger        *slog.Logger
	bootstrap     Bootstrap
	faucet        bool
	exportDir     string
	streamTimeout time.Duration
	nowFn         func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("escrowd: engine required")
	}
	if opts.Audit == nil {
		return nil, errors.New("escrowd: audit store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(256, 64)
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator(AuthConfig{}, logger)
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = NewRateLimiter(RateLimitConfig{RequestsPerMinute: 600, Burst: 50})
	}
	if _, err := opts.Bootstrap.policy(); err != nil {
		return nil, err
	}
	if opts.Bootstrap.MaxBatchSize <= 0 || opts.Bootstrap.MaxBatchSize > escrow.MaxBatchSize {
		opts.Bootstrap.MaxBatchSize = escrow.MaxBatchSize
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 5 * time.Second
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "exports"
	}
	return &Server{
		engine:        opts.Engine,
		ledger:        opts.Ledger,
		audit:         opts.Audit,
		hub:           opts.Hub,
		idempotency:   opts.Idempotency,
		auth:          opts.Auth,
		limiter:       opts.RateLimiter,
		logger:        logger,
		bootstrap:     opts.Bootstrap,
		faucet:        opts.Faucet,
		exportDir:     opts.ExportDir,
		streamTimeout: opts.StreamTimeout,
		nowFn:         time.Now,
	}, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware)
		r.Use(Idempotency(s.idempotency, s.logger))

		r.Get("/v1/stream", s.handleStream)
		r.Post("/v1/init", s.handleInit)
		r.Get("/v1/admin", s.handleAdmin)
		r.Get("/v1/balance", s.handleBalance)
		if s.faucet {
			r.Post("/v1/faucet", s.handleFaucet)
		}

		r.Route("/v1/escrows", func(r chi.Router) {
			r.Post("/", s.handleLock)
			r.Post("/batch/lock", s.handleBatchLock)
			r.Post("/batch/release", s.handleBatchRelease)
			r.Get("/{id}", s.handleGetEscrow)
			r.Post("/{id}/release", s.handleRelease)
			r.Post("/{id}/refund", s.handleRefund)
			r.Get("/{id}/claim", s.handleGetClaim)
			r.Post("/{id}/claim", s.handleClaim)
			r.Delete("/{id}/claim", s.handleCancelClaim)
			r.Post("/{id}/claim/authorize", s.handleAuthorizeClaim)
		})

		r.Route("/v1/settings", func(r chi.Router) {
			r.Get("/claim-window", s.handleGetClaimWindow)
			r.Put("/claim-window", s.handleSetClaimWindow)
			r.Get("/amount-policy", s.handleGetAmountPolicy)
			r.Put("/amount-policy", s.handleSetAmountPolicy)
		})

		r.Route("/v1/risk", func(r chi.Router) {
			r.Get("/rate-limit", s.handleGetRateLimit)
			r.Put("/rate-limit", s.handleSetRateLimit)
			r.Get("/rate-limit/whitelist/{address}", s.handleIsRateWhitelisted)
			r.Put("/rate-limit/whitelist/{address}", s.handleSetRateWhitelist)
			r.Get("/circuit", s.handleCircuitStatus)
			r.Get("/circuit/errors", s.handleCircuitErrors)
			r.Put("/circuit/config", s.handleConfigureCircuit)
			r.Post("/circuit/reset", s.handleResetCircuit)
			r.Post("/circuit/open", s.handleOpenCircuit)
		})

		r.Route("/v1/compliance", func(r chi.Router) {
			r.Get("/{address}", s.handleComplianceStatus)
			r.Post("/blacklist", s.handleAddBlacklist)
			r.Delete("/blacklist/{address}", s.handleRemoveBlacklist)
			r.Post("/whitelist", s.handleAddWhitelist)
			r.Delete("/whitelist/{address}", s.handleRemoveWhitelist)
			r.Put("/whitelist-mode", s.handleWhitelistMode)
		})

		r.Get("/v1/fees", s.handleGetFees)
		r.Put("/v1/fees", s.handleSetFees)

		r.Route("/v1/programs", func(r chi.Router) {
			r.Get("/", s.handleListPrograms)
			r.Post("/", s.handleInitProgram)
			r.Get("/{pid}", s.handleGetProgram)
			r.Post("/{pid}/lock", s.handleLockProgram)
			r.Post("/{pid}/payouts", s.handleSinglePayout)
			r.Post("/{pid}/payouts/batch", s.handleBatchPayout)
			r.Get("/{pid}/multisig", s.handleGetMultisig)
			r.Put("/{pid}/multisig", s.handleSetMultisig)
			r.Post("/{pid}/approvals", s.handleApprove)
			r.Get("/{pid}/approvals/{recipient}", s.handleGetApprovals)
			r.Get("/{pid}/schedules", s.handleListSchedules)
			r.Post("/{pid}/schedules", s.handleCreateSchedule)
			r.Get("/{pid}/schedules/{sid}", s.handleGetSchedule)
			r.Post("/{pid}/schedules/{sid}/release", s.handleReleaseSchedule)
			r.Get("/{pid}/releases", s.handleReleaseHistory)
		})

		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.handleAuditList)
			r.Get("/verify", s.handleAuditVerify)
			r.Post("/export", s.handleAuditExport)
		})
	})
	return otelhttp.NewHandler(r, "escrowd")
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, status, elapsed)
		s.logger.Debug("escrowd: request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", elapsed),
			slog.String("request_id", w.Header().Get(headerRequestID)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	seq, head := s.audit.Head()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"auditSeq":  seq,
		"auditHead": head,
		"time":      s.nowFn().UTC().Format(time.RFC3339),
	})
}

// exec runs fn with the engine lock held inside a span named after op.
func (s *Server) exec(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "escrow."+op)
	defer span.End()
	s.mu.Lock()
	out, err := fn(ctx)
	s.refreshGauges(ctx)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code, ok := escrowerr.CodeOf(err); ok {
			span.SetAttributes(attribute.String("escrow.code", code.String()))
		}
	}
	return out, err
}

func (s *Server) refreshGauges(ctx context.Context) {
	m := observability.Escrow()
	if balance, err := s.engine.GetBalance(ctx); err == nil {
		m.SetVaultBalance(balance)
	}
	if status, err := s.engine.GetCircuitStatus(); err == nil {
		m.SetCircuitState(uint8(status.State))
	}
}

// respond executes op and writes its result with status, or the mapped error.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, op string, fn func(ctx context.Context) (interface{}, error)) {
	out, err := s.exec(r.Context(), op, fn)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, status, out)
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathUint(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", errBadRequest, name)
	}
	return v, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, chi.URLParam(r, name))
}
