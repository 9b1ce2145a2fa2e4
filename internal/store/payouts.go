package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/shopspring/decimal"
)

const payoutColumns = `id, user_id, amount, bank_name, account_number, account_name, status, reason, processed_at, processed_by, created_at`

func scanPayout(row pgx.Row) (domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.BankName, &p.AccountNumber, &p.AccountName,
		&p.Status, &p.Reason, &p.ProcessedAt, &p.ProcessedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payout{}, domain.ErrPayoutNotFound
	}
	return p, err
}

const insertPayoutSQL = `INSERT INTO payouts (id, user_id, amount, bank_name, account_number, account_name, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (q *Queries) InsertPayout(ctx context.Context, p domain.Payout) error {
	_, err := q.db.Exec(ctx, insertPayoutSQL, p.ID, p.UserID, p.Amount, p.BankName, p.AccountNumber, p.AccountName, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

const getPayoutSQL = `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

func (q *Queries) GetPayout(ctx context.Context, id string) (domain.Payout, error) {
	p, err := scanPayout(q.db.QueryRow(ctx, getPayoutSQL, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Payout{}, fmt.Errorf("get payout: %w", err)
	}
	return p, err
}

const listPayoutsByUserSQL = `SELECT ` + payoutColumns + ` FROM payouts WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`

func (q *Queries) ListPayoutsByUser(ctx context.Context, userID string, limit int) ([]domain.Payout, error) {
	rows, err := q.db.Query(ctx, listPayoutsByUserSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const sumPendingPayoutsSQL = `SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE user_id = $1 AND status = 'PENDING'`

// SumPendingPayouts is the amount already requested but not yet decided.
func (q *Queries) SumPendingPayouts(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := q.db.QueryRow(ctx, sumPendingPayoutsSQL, userID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum pending payouts: %w", err)
	}
	return sum, nil
}

// PayoutDecision is a terminal transition of a PENDING payout.
type PayoutDecision struct {
	ID          string
	To          domain.PayoutStatus
	ProcessedBy string
	Reason      *string
	At          time.Time
}

const decidePayoutSQL = `UPDATE payouts
SET status = $2, processed_by = $3, reason = $4, processed_at = $5
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + payoutColumns

// DecidePayout applies d only if the payout is still PENDING. ok is false
// when no row was in that state, which includes a missing payout.
func (q *Queries) DecidePayout(ctx context.Context, d PayoutDecision) (p domain.Payout, ok bool, err error) {
	p, err = scanPayout(q.db.QueryRow(ctx, decidePayoutSQL, d.ID, d.To, d.ProcessedBy, d.Reason, d.At))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Payout{}, false, nil
	}
	if err != nil {
		return domain.Payout{}, false, fmt.Errorf("decide payout: %w", err)
	}
	return p, true, nil
}
