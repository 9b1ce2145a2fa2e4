package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/service"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/shopspring/decimal"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecordConversionHandler is the payment webhook. Redeliveries answer 200
// with no_op set.
func (h *Handler) RecordConversionHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.conversions.RecordConversion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if res.NoOp {
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) MarkRefundedHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversions.MarkRefunded(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		respondWithJSON(w, http.StatusOK, map[string]any{"transaction_id": mux.Vars(r)["id"], "no_op": true})
		return
	}
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conv)
}

func (h *Handler) ListConversionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ConversionFilter{AffiliateID: q.Get("affiliate_id")}

	if v := q.Get("paid"); v != "" {
		paid, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "paid must be true or false")
			return
		}
		f.PaidOut = &paid
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		respondWithError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		respondWithError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		respondWithError(w, http.StatusBadRequest, "offset must be a number")
		return
	}

	page, err := h.conversions.ListConversions(r.Context(), f)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	summary, err := h.wallets.Summary(r.Context(), mux.Vars(r)["userId"], limit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

type createPayoutRequest struct {
	UserID        string      `json:"user_id" validate:"required"`
	Amount        json.Number `json:"amount" validate:"required,numeric"`
	BankName      string      `json:"bank_name" validate:"required,max=100"`
	AccountNumber string      `json:"account_number" validate:"required,max=50"`
	AccountName   string      `json:"account_name" validate:"required,max=100"`
}

func (h *Handler) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	payout, err := h.payouts.Request(r.Context(), service.PayoutRequest{
		UserID:        req.UserID,
		Amount:        amount,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/payouts/"+payout.ID)
	respondWithJSON(w, http.StatusCreated, payout)
}

func (h *Handler) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payout, err := h.payouts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) ListUserPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	payouts, err := h.payouts.ListByUser(r.Context(), mux.Vars(r)["userId"], limit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payouts)
}

func (h *Handler) ApprovePayoutHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	payout, err := h.payouts.Approve(r.Context(), mux.Vars(r)["id"], actorID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) RejectPayoutHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	payout, err := h.payouts.Reject(r.Context(), mux.Vars(r)["id"], actorID, req.Reason)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

type reviewRequest struct {
	AdjustedAmount *json.Number `json:"adjusted_amount" validate:"omitempty,numeric"`
	Note           string       `json:"note" validate:"max=500"`
}

func (h *Handler) ApprovePendingRevenueHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	var adjusted *decimal.Decimal
	if req.AdjustedAmount != nil {
		v, err := decimal.NewFromString(req.AdjustedAmount.String())
		if err != nil {
			respondWithError(w, http.StatusUnprocessableEntity, "invalid adjusted_amount")
			return
		}
		adjusted = &v
	}

	p, err := h.revenue.Approve(r.Context(), mux.Vars(r)["id"], actorID, adjusted, req.Note)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) RejectPendingRevenueHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.revenue.Reject(r.Context(), mux.Vars(r)["id"], actorID, req.Note)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	board, err := h.leaderboard.Aggregate(r.Context(), service.LeaderboardQuery{
		Period: service.Period(q.Get("period")),
		Metric: service.Metric(q.Get("metric")),
		Limit:  limit,
		UserID: q.Get("user"),
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, board)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
	}
	return &t, nil
}
