package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/service"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// ActorHeader carries the id of the admin performing a decision.
// Authentication happens in front of this service.
const ActorHeader = "X-Actor-ID"

type ConversionService interface {
	RecordConversion(ctx context.Context, transactionID string) (service.ConversionResult, error)
	MarkRefunded(ctx context.Context, transactionID string) (domain.Conversion, error)
	ListConversions(ctx context.Context, f store.ConversionFilter) (service.ConversionPage, error)
}

type PayoutService interface {
	Request(ctx context.Context, req service.PayoutRequest) (domain.Payout, error)
	Approve(ctx context.Context, payoutID, actorID string) (domain.Payout, error)
	Reject(ctx context.Context, payoutID, actorID, reason string) (domain.Payout, error)
	Get(ctx context.Context, id string) (domain.Payout, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payout, error)
}

type RevenueService interface {
	Approve(ctx context.Context, id, actorID string, adjusted *decimal.Decimal, note string) (domain.PendingRevenue, error)
	Reject(ctx context.Context, id, actorID, note string) (domain.PendingRevenue, error)
}

type LeaderboardService interface {
	Aggregate(ctx context.Context, q service.LeaderboardQuery) (service.Board, error)
}

type WalletService interface {
	Summary(ctx context.Context, userID string, limit int) (ledger.Summary, error)
}

type Handler struct {
	conversions ConversionService
	payouts     PayoutService
	revenue     RevenueService
	leaderboard LeaderboardService
	wallets     WalletService
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewHandler(c ConversionService, p PayoutService, rv RevenueService, lb LeaderboardService, w WalletService, log zerolog.Logger) *Handler {
	return &Handler{
		conversions: c,
		payouts:     p,
		revenue:     rv,
		leaderboard: lb,
		wallets:     w,
		validate:    validator.New(),
		log:         log.With().Str("component", "http").Logger(),
	}
}

// Router wires every endpoint plus /metrics and /health.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.instrument)
	v1.HandleFunc("/transactions/{id}/conversion", h.RecordConversionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/{id}/refund", h.MarkRefundedHandler).Methods(http.MethodPost)
	v1.HandleFunc("/conversions", h.ListConversionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{userId}", h.GetWalletHandler).Methods(http.MethodGet)
	v1.HandleFunc("/payouts", h.CreatePayoutHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payouts/{id}", h.GetPayoutHandler).Methods(http.MethodGet)
	v1.HandleFunc("/payouts/{id}/approve", h.ApprovePayoutHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payouts/{id}/reject", h.RejectPayoutHandler).Methods(http.MethodPost)
	v1.HandleFunc("/users/{userId}/payouts", h.ListUserPayoutsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/pending-revenues/{id}/approve", h.ApprovePendingRevenueHandler).Methods(http.MethodPost)
	v1.HandleFunc("/pending-revenues/{id}/reject", h.RejectPendingRevenueHandler).Methods(http.MethodPost)
	v1.HandleFunc("/leaderboard", h.LeaderboardHandler).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records the request counter and latency under the route
// template, so ids do not explode label cardinality.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		h.log.Debug().
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// respondWithServiceError maps domain errors to HTTP status codes. Anything
// unrecognised is logged and hidden behind a 500.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyProcessed):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTransactionNotSettled):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrBelowMinimum),
		errors.Is(err, domain.ErrInvalidInput):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// decode reads a JSON body into dst and validates its struct tags. It writes
// the error response itself and reports whether the caller may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondWithError(w, http.StatusUnprocessableEntity, "invalid field "+verrs[0].Field()+": failed "+verrs[0].Tag())
			return false
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(ActorHeader)
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing "+ActorHeader+" header")
		return "", false
	}
	return id, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
