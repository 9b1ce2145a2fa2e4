package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type PayoutRequest struct {
	UserID        string
	Amount        decimal.Decimal
	BankName      string
	AccountNumber string
	AccountName   string
}

// PayoutWorkflow moves withdrawal requests through PENDING to APPROVED or
// REJECTED. Each transition is a compare-and-swap on the payout row, so a
// payout is debited at most once however many admins click approve.
type PayoutWorkflow struct {
	uow    UnitOfWork
	ledger *ledger.Ledger
	policy domain.Policy
	log    zerolog.Logger
	now    func() time.Time
}

func NewPayoutWorkflow(uow UnitOfWork, l *ledger.Ledger, policy domain.Policy, log zerolog.Logger) *PayoutWorkflow {
	return &PayoutWorkflow{
		uow:    uow,
		ledger: l,
		policy: policy,
		log:    log.With().Str("component", "payout_workflow").Logger(),
		now:    time.Now,
	}
}

func (w *PayoutWorkflow) Request(ctx context.Context, req PayoutRequest) (domain.Payout, error) {
	if req.UserID == "" {
		return domain.Payout{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return domain.Payout{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}

	var payout domain.Payout
	err := w.uow.InTx(ctx, func(q Repository) error {
		policy, err := q.LoadPolicy(ctx, w.policy)
		if err != nil {
			return err
		}
		if req.Amount.LessThan(policy.MinWithdrawal) {
			return fmt.Errorf("%w: minimum is %s", domain.ErrBelowMinimum, policy.MinWithdrawal)
		}

		// The wallet lock serializes concurrent requests from the same user.
		wallet, err := q.LockWallet(ctx, req.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no wallet for user %s", domain.ErrInsufficientBalance, req.UserID)
		}
		if err != nil {
			return err
		}
		pending, err := q.SumPendingPayouts(ctx, req.UserID)
		if err != nil {
			return err
		}
		available := wallet.Balance.Sub(pending)
		if req.Amount.GreaterThan(available) {
			return fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientBalance, available, req.Amount)
		}

		now := w.now()
		payout = domain.Payout{
			ID:            uuid.NewString(),
			UserID:        req.UserID,
			Amount:        req.Amount,
			BankName:      strings.TrimSpace(req.BankName),
			AccountNumber: strings.TrimSpace(req.AccountNumber),
			AccountName:   strings.TrimSpace(req.AccountName),
			Status:        domain.PayoutPending,
			CreatedAt:     now,
		}
		if err := q.InsertPayout(ctx, payout); err != nil {
			return err
		}
		return emit(ctx, q, domain.EventPayoutRequested, payout.UserID, map[string]any{
			"payout_id": payout.ID,
			"amount":    payout.Amount,
		}, now)
	})
	if err != nil {
		return domain.Payout{}, err
	}
	w.log.Info().Str("payout_id", payout.ID).Str("user_id", payout.UserID).Str("amount", payout.Amount.String()).Msg("payout requested")
	return payout, nil
}

// Approve debits the payout amount from the user's wallet. Only the first
// approval of a PENDING payout has any effect; later calls get
// domain.ErrAlreadyProcessed.
func (w *PayoutWorkflow) Approve(ctx context.Context, payoutID, actorID string) (domain.Payout, error) {
	if actorID == "" {
		return domain.Payout{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	var payout domain.Payout
	err := w.uow.InTx(ctx, func(q Repository) error {
		now := w.now()
		p, err := w.decide(ctx, q, store.PayoutDecision{
			ID:          payoutID,
			To:          domain.PayoutApproved,
			ProcessedBy: actorID,
			At:          now,
		})
		if err != nil {
			return err
		}

		balance, err := w.ledger.Debit(ctx, q, ledger.Entry{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Kind:        domain.WalletTxWithdrawal,
			Description: fmt.Sprintf("Withdrawal to %s %s", p.BankName, p.AccountNumber),
			RefID:       p.ID,
			Metadata: map[string]any{
				"payout_id":    p.ID,
				"processed_by": actorID,
			},
		})
		if err != nil {
			return err
		}

		if err := w.settleConversions(ctx, q, p, now); err != nil {
			return err
		}

		payout = p
		return emit(ctx, q, domain.EventPayoutApproved, p.UserID, map[string]any{
			"payout_id": p.ID,
			"amount":    p.Amount,
			"balance":   balance,
		}, now)
	})
	if err != nil {
		payoutsProcessed.WithLabelValues(outcome(err)).Inc()
		return domain.Payout{}, err
	}
	payoutsProcessed.WithLabelValues("approved").Inc()
	w.log.Info().Str("payout_id", payout.ID).Str("actor_id", actorID).Str("amount", payout.Amount.String()).Msg("payout approved")
	return payout, nil
}

// settleConversions flags the affiliate's oldest unpaid conversions as paid
// while their commission still fits in the payout.
func (w *PayoutWorkflow) settleConversions(ctx context.Context, q Repository, p domain.Payout, at time.Time) error {
	unpaid, err := q.LockUnpaidConversions(ctx, p.UserID)
	if err != nil {
		return err
	}
	var (
		ids     []string
		covered = decimal.Zero
	)
	for _, c := range unpaid {
		next := covered.Add(c.CommissionAmount)
		if next.GreaterThan(p.Amount) {
			break
		}
		covered = next
		ids = append(ids, c.ID)
	}
	return q.MarkConversionsPaid(ctx, ids, at)
}

func (w *PayoutWorkflow) Reject(ctx context.Context, payoutID, actorID, reason string) (domain.Payout, error) {
	if actorID == "" {
		return domain.Payout{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	var payout domain.Payout
	err := w.uow.InTx(ctx, func(q Repository) error {
		now := w.now()
		d := store.PayoutDecision{
			ID:          payoutID,
			To:          domain.PayoutRejected,
			ProcessedBy: actorID,
			At:          now,
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			d.Reason = &reason
		}
		p, err := w.decide(ctx, q, d)
		if err != nil {
			return err
		}
		payout = p
		return emit(ctx, q, domain.EventPayoutRejected, p.UserID, map[string]any{
			"payout_id": p.ID,
			"amount":    p.Amount,
			"reason":    reason,
		}, now)
	})
	if err != nil {
		payoutsProcessed.WithLabelValues(outcome(err)).Inc()
		return domain.Payout{}, err
	}
	payoutsProcessed.WithLabelValues("rejected").Inc()
	w.log.Info().Str("payout_id", payout.ID).Str("actor_id", actorID).Msg("payout rejected")
	return payout, nil
}

// decide applies the CAS and, when it matched nothing, tells a missing payout
// apart from one that was already decided.
func (w *PayoutWorkflow) decide(ctx context.Context, q Repository, d store.PayoutDecision) (domain.Payout, error) {
	p, ok, err := q.DecidePayout(ctx, d)
	if err != nil {
		return domain.Payout{}, err
	}
	if ok {
		return p, nil
	}
	current, err := q.GetPayout(ctx, d.ID)
	if err != nil {
		return domain.Payout{}, err
	}
	return domain.Payout{}, fmt.Errorf("payout %s is %s: %w", current.ID, current.Status, domain.ErrAlreadyProcessed)
}

func (w *PayoutWorkflow) Get(ctx context.Context, id string) (domain.Payout, error) {
	return w.uow.GetPayout(ctx, id)
}

func (w *PayoutWorkflow) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	payouts, err := w.uow.ListPayoutsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	return payouts, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "error"
	}
}
