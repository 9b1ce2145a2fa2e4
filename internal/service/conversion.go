package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/commissionledger/internal/commission"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
)

// ConversionResult is what RecordConversion did. NoOp is set when the
// transaction had already been processed; Conversion and Shares then
// describe the earlier run.
type ConversionResult struct {
	TransactionID string                `json:"transaction_id"`
	Conversion    *domain.Conversion    `json:"conversion,omitempty"`
	Shares        []domain.RevenueShare `json:"shares"`
	Overflow      bool                  `json:"overflow,omitempty"`
	Dropped       []domain.ShareRole    `json:"dropped,omitempty"`
	NoOp          bool                  `json:"no_op"`
}

type ConversionRecorder struct {
	uow    UnitOfWork
	ledger *ledger.Ledger
	policy domain.Policy
	log    zerolog.Logger
	now    func() time.Time
}

func NewConversionRecorder(uow UnitOfWork, l *ledger.Ledger, policy domain.Policy, log zerolog.Logger) *ConversionRecorder {
	return &ConversionRecorder{
		uow:    uow,
		ledger: l,
		policy: policy,
		log:    log.With().Str("component", "conversion_recorder").Logger(),
		now:    time.Now,
	}
}

// RecordConversion splits a settled transaction between its parties and
// credits each of them. Calling it again for the same transaction is a no-op.
func (r *ConversionRecorder) RecordConversion(ctx context.Context, transactionID string) (ConversionResult, error) {
	var (
		res      ConversionResult
		credited []domain.ShareRole
	)

	err := r.uow.InTx(ctx, func(q Repository) error {
		res = ConversionResult{TransactionID: transactionID}
		credited = credited[:0]

		// 1. Lock the source transaction. Concurrent deliveries for the same
		// id queue here.
		tx, err := q.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status != domain.TransactionSuccess {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrTransactionNotSettled, tx.ID, tx.Status)
		}

		// 2. Idempotency check
		done, err := q.HasRevenueShares(ctx, tx.ID)
		if err != nil {
			return err
		}
		existing, err := q.ConversionByTransaction(ctx, tx.ID)
		if err != nil {
			return err
		}
		if done || existing != nil {
			res.NoOp = true
			res.Conversion = existing
			res.Shares, err = q.ListRevenueShares(ctx, tx.ID)
			return err
		}

		// 3. Attribution and terms
		affiliateID, err := r.resolveAffiliate(ctx, q, tx)
		if err != nil {
			return err
		}
		policy, err := q.LoadPolicy(ctx, r.policy)
		if err != nil {
			return err
		}
		var item *domain.ItemCommission
		if tx.ItemID != "" {
			if item, err = q.ItemCommission(ctx, tx.Type, tx.ItemID); err != nil {
				return err
			}
		}
		terms := commission.ResolveTerms(item, policy)

		in := commission.Input{Amount: tx.Amount, AffiliateID: affiliateID, Terms: terms}
		// mentor_id carries the item owner: the course mentor or the event creator.
		switch {
		case tx.Type == domain.ItemCourse && tx.MentorID != nil && item != nil && item.MentorPercent != nil:
			in.MentorID = *tx.MentorID
			in.MentorPercent = *item.MentorPercent
		case tx.Type == domain.ItemEvent && tx.MentorID != nil:
			in.CreatorID = *tx.MentorID
			in.CreatorPercent = policy.EventCreatorPercent
			if item != nil && item.MentorPercent != nil {
				in.CreatorPercent = *item.MentorPercent
			}
		}

		// 4. Split
		plan, err := commission.Split(in, policy)
		if err != nil {
			return err
		}
		if plan.Overflow {
			r.log.Warn().
				Str("transaction_id", tx.ID).
				Interface("dropped", plan.Dropped).
				Msg("revenue split exceeded transaction amount, lowest priority shares dropped")
		}
		res.Overflow, res.Dropped = plan.Overflow, plan.Dropped

		// 5. Credit in wallet lock order
		shares := append([]commission.Share(nil), plan.Shares...)
		sort.SliceStable(shares, func(i, j int) bool {
			if shares[i].UserID != shares[j].UserID {
				return shares[i].UserID < shares[j].UserID
			}
			return shares[i].Role < shares[j].Role
		})
		now := r.now()
		for _, s := range shares {
			rs := domain.RevenueShare{
				TransactionID: tx.ID,
				Role:          s.Role,
				UserID:        s.UserID,
				Amount:        s.Amount,
				Held:          policy.HoldHouseShares && s.Role.House(),
			}
			claimed, err := q.ClaimRevenueShare(ctx, rs)
			if err != nil {
				return err
			}
			if !claimed {
				continue
			}
			if err := r.apply(ctx, q, tx, s, rs, now); err != nil {
				return err
			}
			res.Shares = append(res.Shares, rs)
			credited = append(credited, s.Role)
		}

		// 6. Conversion record for the affiliate
		if affiliateID == "" {
			return nil
		}
		conv := domain.Conversion{
			ID:             uuid.NewString(),
			TransactionID:  tx.ID,
			AffiliateID:    affiliateID,
			CommissionRate: terms.Rate,
			CommissionType: terms.Type,
			Status:         domain.ConversionActive,
			CreatedAt:      now,
		}
		if s, ok := plan.Share(domain.RoleAffiliate); ok {
			conv.CommissionAmount = s.Amount
		}
		if conv.CommissionAmount.GreaterThan(tx.Amount) {
			return fmt.Errorf("%w: commission %s exceeds transaction amount %s", domain.ErrInvariantViolation, conv.CommissionAmount, tx.Amount)
		}
		if err := q.InsertConversion(ctx, conv); err != nil {
			return err
		}
		res.Conversion = &conv
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		return ConversionResult{TransactionID: transactionID, NoOp: true}, nil
	}
	if err != nil {
		return ConversionResult{}, err
	}

	for _, role := range credited {
		commissionCredited.WithLabelValues(string(role)).Inc()
	}
	if res.NoOp {
		r.log.Info().Str("transaction_id", transactionID).Msg("conversion already recorded")
	} else {
		r.log.Info().
			Str("transaction_id", transactionID).
			Int("shares", len(res.Shares)).
			Bool("attributed", res.Conversion != nil).
			Msg("conversion recorded")
	}
	return res, nil
}

// apply credits one claimed share, or parks it as pending revenue.
func (r *ConversionRecorder) apply(ctx context.Context, q Repository, tx domain.Transaction, s commission.Share, rs domain.RevenueShare, now time.Time) error {
	if rs.Held {
		w, err := r.ledger.Hold(ctx, q, s.UserID, s.Amount)
		if err != nil {
			return err
		}
		pending := domain.PendingRevenue{
			ID:            uuid.NewString(),
			WalletID:      w.ID,
			UserID:        s.UserID,
			TransactionID: tx.ID,
			Role:          s.Role,
			Amount:        s.Amount,
			Percentage:    s.Rate,
			Status:        domain.PendingOpen,
			CreatedAt:     now,
		}
		if err := q.InsertPendingRevenue(ctx, pending); err != nil {
			return err
		}
		return emit(ctx, q, domain.EventRevenueHeld, s.UserID, map[string]any{
			"pending_revenue_id": pending.ID,
			"transaction_id":     tx.ID,
			"role":               s.Role,
			"amount":             s.Amount,
		}, now)
	}

	kind := domain.WalletTxCommission
	if s.Role == domain.RoleAffiliateBonus {
		kind = domain.WalletTxChallengeReward
	}
	balance, err := r.ledger.Credit(ctx, q, ledger.Entry{
		UserID:      s.UserID,
		Amount:      s.Amount,
		Kind:        kind,
		Description: describeShare(s),
		RefID:       tx.ID,
		Metadata: map[string]any{
			"transaction_id": tx.ID,
			"role":           s.Role,
			"item_type":      tx.Type,
		},
	})
	if err != nil {
		return err
	}
	return emit(ctx, q, domain.EventCommissionCredited, s.UserID, map[string]any{
		"transaction_id": tx.ID,
		"role":           s.Role,
		"amount":         s.Amount,
		"balance":        balance,
	}, now)
}

// resolveAffiliate returns the affiliate's user id, or "" when the sale is
// unattributed. A payer never earns commission on their own purchase.
func (r *ConversionRecorder) resolveAffiliate(ctx context.Context, q Repository, tx domain.Transaction) (string, error) {
	var affiliateID string
	switch {
	case tx.AffiliateID != nil && *tx.AffiliateID != "":
		affiliateID = *tx.AffiliateID
	case tx.AffiliateCode != nil && *tx.AffiliateCode != "":
		id, err := q.AffiliateUserByCode(ctx, *tx.AffiliateCode)
		if err != nil {
			return "", err
		}
		affiliateID = id
	}
	if affiliateID != "" && affiliateID == tx.UserID {
		r.log.Info().Str("transaction_id", tx.ID).Msg("self-referral ignored")
		return "", nil
	}
	return affiliateID, nil
}

func describeShare(s commission.Share) string {
	switch s.Role {
	case domain.RoleAffiliate:
		if s.Type == domain.CommissionFlat {
			return fmt.Sprintf("Affiliate commission (%s flat)", s.Rate.String())
		}
		return fmt.Sprintf("Affiliate commission (%s%%)", s.Rate.String())
	case domain.RoleAffiliateBonus:
		return "Affiliate bonus"
	case domain.RoleMentor:
		return fmt.Sprintf("Mentor commission (%s%% of remainder)", s.Rate.String())
	case domain.RoleEventCreator:
		return fmt.Sprintf("Event creator commission (%s%%)", s.Rate.String())
	case domain.RoleAdmin:
		return fmt.Sprintf("Admin fee (%s%%)", s.Rate.String())
	case domain.RoleFounder:
		return fmt.Sprintf("Founder share (%s%%)", s.Rate.String())
	case domain.RoleCoFounder:
		return fmt.Sprintf("Co-founder share (%s%%)", s.Rate.String())
	}
	return string(s.Role)
}

// MarkRefunded flags the conversion of a refunded transaction. Credited
// shares are not clawed back.
func (r *ConversionRecorder) MarkRefunded(ctx context.Context, transactionID string) (domain.Conversion, error) {
	var conv domain.Conversion
	err := r.uow.InTx(ctx, func(q Repository) error {
		tx, err := q.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status != domain.TransactionRefunded {
			return fmt.Errorf("%w: transaction %s is %s, not %s", domain.ErrInvalidInput, tx.ID, tx.Status, domain.TransactionRefunded)
		}
		existing, err := q.ConversionByTransaction(ctx, tx.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("conversion for transaction %s %w", tx.ID, domain.ErrNotFound)
		}
		ok, err := q.SetConversionStatus(ctx, tx.ID, domain.ConversionActive, domain.ConversionRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyProcessed
		}
		conv = *existing
		conv.Status = domain.ConversionRefunded
		return nil
	})
	if err != nil {
		return domain.Conversion{}, err
	}
	r.log.Info().Str("transaction_id", transactionID).Msg("conversion marked refunded")
	return conv, nil
}

// ConversionPage is one page of the admin listing.
type ConversionPage struct {
	Conversions []domain.Conversion `json:"conversions"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (r *ConversionRecorder) ListConversions(ctx context.Context, f store.ConversionFilter) (ConversionPage, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	convs, total, err := r.uow.ListConversions(ctx, f)
	if err != nil {
		return ConversionPage{}, err
	}
	if convs == nil {
		convs = []domain.Conversion{}
	}
	return ConversionPage{Conversions: convs, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
