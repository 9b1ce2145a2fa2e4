package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RevenueReview decides house shares that were held in balance_pending.
type RevenueReview struct {
	uow    UnitOfWork
	ledger *ledger.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

func NewRevenueReview(uow UnitOfWork, l *ledger.Ledger, log zerolog.Logger) *RevenueReview {
	return &RevenueReview{
		uow:    uow,
		ledger: l,
		log:    log.With().Str("component", "revenue_review").Logger(),
		now:    time.Now,
	}
}

// Approve releases held revenue. A non-nil adjusted amount replaces the held
// amount and must be in (0, held].
func (r *RevenueReview) Approve(ctx context.Context, id, actorID string, adjusted *decimal.Decimal, note string) (domain.PendingRevenue, error) {
	if actorID == "" {
		return domain.PendingRevenue{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	var out domain.PendingRevenue
	err := r.uow.InTx(ctx, func(q Repository) error {
		p, err := r.open(ctx, q, id)
		if err != nil {
			return err
		}

		credit, status := p.Amount, domain.PendingApproved
		if adjusted != nil {
			if !adjusted.IsPositive() || adjusted.GreaterThan(p.Amount) {
				return fmt.Errorf("%w: adjusted amount must be in (0, %s]", domain.ErrInvalidInput, p.Amount)
			}
			if !adjusted.Equal(p.Amount) {
				credit, status = *adjusted, domain.PendingAdjusted
			}
		}

		now := r.now()
		review := store.PendingReview{ID: p.ID, To: status, ReviewedBy: actorID, At: now, Note: optional(note)}
		if status == domain.PendingAdjusted {
			review.Adjusted = &credit
		}
		if err := r.review(ctx, q, review); err != nil {
			return err
		}

		metadata := map[string]any{
			"pending_revenue_id": p.ID,
			"transaction_id":     p.TransactionID,
			"role":               p.Role,
			"reviewed_by":        actorID,
		}
		if status == domain.PendingAdjusted {
			metadata["original_amount"] = p.Amount
		}
		if _, err := r.ledger.Release(ctx, q, p.Amount, ledger.Entry{
			UserID:      p.UserID,
			Amount:      credit,
			Kind:        domain.WalletTxPendingRelease,
			Description: fmt.Sprintf("%s share released", p.Role),
			RefID:       p.ID,
			Metadata:    metadata,
		}); err != nil {
			return err
		}

		p.Status, p.ReviewedBy, p.ReviewedAt, p.Note = status, &actorID, &now, review.Note
		p.AdjustedAmount = review.Adjusted
		out = p
		return emit(ctx, q, domain.EventRevenueReviewed, p.UserID, map[string]any{
			"pending_revenue_id": p.ID,
			"status":             status,
			"amount":             credit,
		}, now)
	})
	if err != nil {
		return domain.PendingRevenue{}, err
	}
	r.log.Info().Str("pending_revenue_id", id).Str("status", string(out.Status)).Str("actor_id", actorID).Msg("pending revenue approved")
	return out, nil
}

// Reject drops the hold without crediting anything.
func (r *RevenueReview) Reject(ctx context.Context, id, actorID, note string) (domain.PendingRevenue, error) {
	if actorID == "" {
		return domain.PendingRevenue{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	var out domain.PendingRevenue
	err := r.uow.InTx(ctx, func(q Repository) error {
		p, err := r.open(ctx, q, id)
		if err != nil {
			return err
		}
		now := r.now()
		review := store.PendingReview{ID: p.ID, To: domain.PendingRejected, ReviewedBy: actorID, At: now, Note: optional(note)}
		if err := r.review(ctx, q, review); err != nil {
			return err
		}
		if err := r.ledger.Drop(ctx, q, p.UserID, p.Amount); err != nil {
			return err
		}

		p.Status, p.ReviewedBy, p.ReviewedAt, p.Note = domain.PendingRejected, &actorID, &now, review.Note
		out = p
		return emit(ctx, q, domain.EventRevenueReviewed, p.UserID, map[string]any{
			"pending_revenue_id": p.ID,
			"status":             domain.PendingRejected,
		}, now)
	})
	if err != nil {
		return domain.PendingRevenue{}, err
	}
	r.log.Info().Str("pending_revenue_id", id).Str("actor_id", actorID).Msg("pending revenue rejected")
	return out, nil
}

func (r *RevenueReview) open(ctx context.Context, q Repository, id string) (domain.PendingRevenue, error) {
	p, err := q.GetPendingRevenue(ctx, id)
	if err != nil {
		return domain.PendingRevenue{}, err
	}
	if p.Status != domain.PendingOpen {
		return domain.PendingRevenue{}, fmt.Errorf("pending revenue %s is %s: %w", p.ID, p.Status, domain.ErrAlreadyProcessed)
	}
	return p, nil
}

func (r *RevenueReview) review(ctx context.Context, q Repository, rv store.PendingReview) error {
	ok, err := q.ReviewPendingRevenue(ctx, rv)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pending revenue %s: %w", rv.ID, domain.ErrAlreadyProcessed)
	}
	return nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
