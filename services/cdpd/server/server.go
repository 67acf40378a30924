// Package server exposes the CDP engine over an authenticated JSON API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cdpchain/native/cdp"
	nativecommon "cdpchain/native/common"
	"cdpchain/services/cdpd/archive"
	"cdpchain/services/cdpd/middleware"
	"cdpchain/storage"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    *cdp.Engine
	Feed      *cdp.StaticPriceFeed
	Pauses    *nativecommon.PauseSet
	Hub       *Hub
	Snapshots storage.Database
	Archive   *archive.Archive
	Auth      *middleware.Authenticator
	Limiter   *middleware.RateLimiter
	Obs       *middleware.Observability
	Quota     nativecommon.Quota
	Origins   []string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine         *cdp.Engine
	feed           *cdp.StaticPriceFeed
	pauses         *nativecommon.PauseSet
	hub            *Hub
	snapshots      storage.Database
	archive        *archive.Archive
	auth           *middleware.Authenticator
	limiter        *middleware.RateLimiter
	obs            *middleware.Observability
	quota          *nativecommon.QuotaTracker[common.Address]
	originPatterns []string
	logger         *slog.Logger
	now            func() time.Time

	router http.Handler
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("server: authenticator required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	if cfg.Pauses == nil {
		cfg.Pauses = nativecommon.NewPauseSet(nil)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = middleware.NewRateLimiter(middleware.RateLimit{}, cfg.Logger)
	}
	if cfg.Obs == nil {
		cfg.Obs = middleware.NewObservability("cdpd", false, cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	origins := cfg.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &Server{
		engine:         cfg.Engine,
		feed:           cfg.Feed,
		pauses:         cfg.Pauses,
		hub:            cfg.Hub,
		snapshots:      cfg.Snapshots,
		archive:        cfg.Archive,
		auth:           cfg.Auth,
		limiter:        cfg.Limiter,
		obs:            cfg.Obs,
		quota:          nativecommon.NewQuotaTracker[common.Address](cfg.Quota),
		originPatterns: origins,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	route := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return s.obs.Middleware(name)(s.limiter.Middleware(name)(next))
		}
	}

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(s.auth.Optional())
			read.With(route("system")).Get("/system", s.handleSystem)
			read.With(route("fees")).Get("/fees", s.handleFees)
			read.With(route("troves")).Get("/troves", s.handleListTroves)
			read.With(route("troves")).Get("/troves/sorted", s.handleSortedTroves)
			read.With(route("troves")).Get("/troves/{owner}", s.handleGetTrove)
			read.With(route("accounts")).Get("/accounts/{account}", s.handleAccount)
			read.With(route("hints")).Get("/hints/redemption", s.handleRedemptionHints)
			read.With(route("hints")).Get("/hints/insert", s.handleInsertHint)
			read.With(route("exports")).Get("/exports/troves/{format}", s.handleExportTroves)
			read.With(route("events")).Get("/events", s.handleEvents)
			read.Get("/events/ws", s.handleEventStream)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.auth.Require(middleware.ScopeWrite))
			write.With(route("troves")).Post("/troves", s.handleOpenTrove)
			write.With(route("troves")).Post("/troves/adjust", s.handleAdjustTrove)
			write.With(route("troves")).Post("/troves/close", s.handleCloseTrove)
			write.With(route("troves")).Post("/troves/claim", s.handleClaimCollateral)
			write.With(route("troves")).Post("/troves/rewards", s.handleApplyRewards)
			write.With(route("liquidations")).Post("/liquidations", s.handleLiquidate)
			write.With(route("redemptions")).Post("/redemptions", s.handleRedeem)
			write.With(route("stability")).Post("/stability/deposit", s.handleProvideToSP)
			write.With(route("stability")).Post("/stability/withdraw", s.handleWithdrawFromSP)
			write.With(route("stability")).Post("/stability/gain-to-trove", s.handleCollGainToTrove)
			write.With(route("staking")).Post("/staking/stake", s.handleStake)
			write.With(route("staking")).Post("/staking/unstake", s.handleUnstake)
			write.With(route("accounts")).Post("/accounts/transfer", s.handleTransfer)
		})
		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.Require(middleware.ScopeAdmin))
			admin.With(route("admin")).Post("/admin/price", s.handleSetPrice)
			admin.With(route("admin")).Post("/admin/pauses", s.handleSetPause)
			admin.With(route("admin")).Post("/admin/fund", s.handleFund)
			admin.With(route("admin")).Post("/admin/snapshots", s.handleSaveSnapshot)
			admin.With(route("admin")).Get("/admin/snapshots", s.handleListSnapshots)
		})
	})
	return otelhttp.NewHandler(r, "cdpd")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, cdp.ErrPriceUnavailable), errors.Is(err, cdp.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrQuotaBorrowCapExceeded),
		errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests
	case errors.Is(err, cdp.ErrTroveNotActive), errors.Is(err, cdp.ErrSnapshotNotFound):
		return http.StatusNotFound
	case cdp.IsNoop(err), errors.Is(err, cdp.ErrTroveActive):
		return http.StatusConflict
	case cdp.IsFatal(err), errors.Is(err, errNoSnapshotStore):
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) caller(r *http.Request) common.Address {
	account, _ := middleware.AccountFromContext(r.Context())
	return account
}

// reserveBorrow checks the caller's quota for a new borrow of amount and
// returns a commit func that records the usage once the borrow succeeds.
func (s *Server) reserveBorrow(account common.Address, amount *uint256.Int) (func(), error) {
	units, err := wholeUnits(amount)
	if err != nil {
		return nil, err
	}
	return s.quota.Reserve(account, s.now().Unix(), units)
}

// wholeUnits rounds an 18-decimal amount up to whole stablecoin units.
func wholeUnits(amount *uint256.Int) (uint64, error) {
	if amount == nil || amount.IsZero() {
		return 0, nil
	}
	whole, rem := new(uint256.Int).DivMod(amount, cdp.DecimalPrecision, new(uint256.Int))
	if !rem.IsZero() {
		whole.AddUint64(whole, 1)
	}
	if !whole.IsUint64() {
		return 0, nativecommon.ErrQuotaCounterOverflow
	}
	return whole.Uint64(), nil
}
