package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/shopspring/decimal"
)

var (
	commissionCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commission_credited_total",
		Help: "Revenue shares credited or held, labeled by role",
	}, []string{"role"})

	payoutsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payouts_processed_total",
		Help: "Payout decisions, labeled by outcome",
	}, []string{"outcome"})
)

// Repository is every query the workflows run. *store.Queries implements it
// both on the pool and inside a transaction.
type Repository interface {
	ledger.Store
	ledger.SummaryReader

	LockTransaction(ctx context.Context, id string) (domain.Transaction, error)
	AffiliateUserByCode(ctx context.Context, code string) (string, error)
	ItemCommission(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.ItemCommission, error)
	LoadPolicy(ctx context.Context, base domain.Policy) (domain.Policy, error)

	HasRevenueShares(ctx context.Context, transactionID string) (bool, error)
	ClaimRevenueShare(ctx context.Context, s domain.RevenueShare) (bool, error)
	ListRevenueShares(ctx context.Context, transactionID string) ([]domain.RevenueShare, error)

	InsertConversion(ctx context.Context, c domain.Conversion) error
	ConversionByTransaction(ctx context.Context, transactionID string) (*domain.Conversion, error)
	SetConversionStatus(ctx context.Context, transactionID string, from, to domain.ConversionStatus) (bool, error)
	ListConversions(ctx context.Context, f store.ConversionFilter) ([]domain.Conversion, int, error)
	LockUnpaidConversions(ctx context.Context, affiliateID string) ([]domain.Conversion, error)
	MarkConversionsPaid(ctx context.Context, ids []string, at time.Time) error

	InsertPayout(ctx context.Context, p domain.Payout) error
	GetPayout(ctx context.Context, id string) (domain.Payout, error)
	SumPendingPayouts(ctx context.Context, userID string) (decimal.Decimal, error)
	DecidePayout(ctx context.Context, d store.PayoutDecision) (domain.Payout, bool, error)

	InsertPendingRevenue(ctx context.Context, p domain.PendingRevenue) error
	GetPendingRevenue(ctx context.Context, id string) (domain.PendingRevenue, error)
	ReviewPendingRevenue(ctx context.Context, r store.PendingReview) (bool, error)

	InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) error
	Leaderboard(ctx context.Context, lq store.LeaderboardQuery) ([]domain.LeaderboardEntry, error)
}

// UnitOfWork runs fn in one database transaction. Its own Repository methods
// run outside any transaction and are used for reads.
type UnitOfWork interface {
	Repository
	InTx(ctx context.Context, fn func(q Repository) error) error
}

type pgUnitOfWork struct {
	*store.Store
}

func NewUnitOfWork(s *store.Store) UnitOfWork {
	return pgUnitOfWork{Store: s}
}

func (u pgUnitOfWork) InTx(ctx context.Context, fn func(q Repository) error) error {
	return u.Store.InTx(ctx, func(q *store.Queries) error { return fn(q) })
}

// emit writes a notification intent in the caller's transaction. The relay
// publishes it after commit.
func emit(ctx context.Context, q Repository, kind, userID string, payload any, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	return q.InsertOutboxEvent(ctx, domain.OutboxEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Payload:   raw,
		CreatedAt: at,
	})
}
