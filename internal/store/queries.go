package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Queries runs statements against either the pool or an open transaction.
type Queries struct {
	db DBTX
}

const lockTransactionSQL = `SELECT id, user_id, amount, status, type, item_id, affiliate_id, affiliate_code, mentor_id, created_at, paid_at
FROM transactions WHERE id = $1 FOR UPDATE`

// LockTransaction reads a transaction and holds its row lock until the
// enclosing transaction ends.
func (q *Queries) LockTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	var t domain.Transaction
	err := q.db.QueryRow(ctx, lockTransactionSQL, id).Scan(
		&t.ID, &t.UserID, &t.Amount, &t.Status, &t.Type, &t.ItemID,
		&t.AffiliateID, &t.AffiliateCode, &t.MentorID, &t.CreatedAt, &t.PaidAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("lock transaction %s: %w", id, err)
	}
	return t, nil
}

const affiliateByCodeSQL = `SELECT user_id FROM affiliate_links WHERE code = $1 OR short_code = $1 LIMIT 1`

// AffiliateUserByCode resolves a referral code or short code to the owning
// user. Unknown codes return "" and no error.
func (q *Queries) AffiliateUserByCode(ctx context.Context, code string) (string, error) {
	var userID string
	err := q.db.QueryRow(ctx, affiliateByCodeSQL, code).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve affiliate code: %w", err)
	}
	return userID, nil
}

const itemCommissionSQL = `SELECT item_type, item_id, commission_type, affiliate_rate, affiliate_bonus, mentor_percent
FROM item_commissions WHERE item_type = $1 AND item_id = $2`

// ItemCommission returns the override for an item, or nil when there is none.
func (q *Queries) ItemCommission(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.ItemCommission, error) {
	var ic domain.ItemCommission
	err := q.db.QueryRow(ctx, itemCommissionSQL, itemType, itemID).Scan(
		&ic.ItemType, &ic.ItemID, &ic.CommissionType, &ic.AffiliateRate, &ic.AffiliateBonus, &ic.MentorPercent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("item commission: %w", err)
	}
	return &ic, nil
}

const revenueSettingsSQL = `SELECT default_affiliate_rate, admin_fee_percent, founder_percent, cofounder_percent, min_withdrawal, hold_house_shares
FROM revenue_settings WHERE id = 1`

// LoadPolicy overlays the admin settings row, if any, on base. Recipient
// user ids, the event creator cut and rounding always come from base.
func (q *Queries) LoadPolicy(ctx context.Context, base domain.Policy) (domain.Policy, error) {
	p := base
	var affiliate, admin, founder, cofounder, minWithdrawal decimal.Decimal
	var hold bool
	err := q.db.QueryRow(ctx, revenueSettingsSQL).Scan(&affiliate, &admin, &founder, &cofounder, &minWithdrawal, &hold)
	if errors.Is(err, pgx.ErrNoRows) {
		return base, nil
	}
	if err != nil {
		return domain.Policy{}, fmt.Errorf("revenue settings: %w", err)
	}

	p.DefaultAffiliateRate = affiliate
	p.AdminFeePercent = admin
	p.FounderPercent = founder
	p.CoFounderPercent = cofounder
	p.MinWithdrawal = minWithdrawal
	p.HoldHouseShares = hold
	if err := p.Validate(); err != nil {
		return domain.Policy{}, fmt.Errorf("revenue settings row: %w", err)
	}
	return p, nil
}

const hasRevenueSharesSQL = `SELECT EXISTS(SELECT 1 FROM revenue_shares WHERE transaction_id = $1)`

func (q *Queries) HasRevenueShares(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, hasRevenueSharesSQL, transactionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check revenue shares: %w", err)
	}
	return exists, nil
}

const claimRevenueShareSQL = `INSERT INTO revenue_shares (transaction_id, role, user_id, amount, held)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (transaction_id, role) DO NOTHING`

// ClaimRevenueShare records a share before it is credited. It reports false
// when the (transaction, role) pair was already claimed.
func (q *Queries) ClaimRevenueShare(ctx context.Context, s domain.RevenueShare) (bool, error) {
	tag, err := q.db.Exec(ctx, claimRevenueShareSQL, s.TransactionID, s.Role, s.UserID, s.Amount, s.Held)
	if err != nil {
		return false, fmt.Errorf("claim %s share: %w", s.Role, err)
	}
	return tag.RowsAffected() == 1, nil
}

const listRevenueSharesSQL = `SELECT transaction_id, role, user_id, amount, held
FROM revenue_shares WHERE transaction_id = $1 ORDER BY role`

func (q *Queries) ListRevenueShares(ctx context.Context, transactionID string) ([]domain.RevenueShare, error) {
	rows, err := q.db.Query(ctx, listRevenueSharesSQL, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list revenue shares: %w", err)
	}
	defer rows.Close()

	var shares []domain.RevenueShare
	for rows.Next() {
		var s domain.RevenueShare
		if err := rows.Scan(&s.TransactionID, &s.Role, &s.UserID, &s.Amount, &s.Held); err != nil {
			return nil, fmt.Errorf("scan revenue share: %w", err)
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}
