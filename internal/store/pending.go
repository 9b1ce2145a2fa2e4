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

const pendingColumns = `id, wallet_id, user_id, transaction_id, role, amount, percentage, status, adjusted_amount, note, reviewed_by, reviewed_at, created_at`

const insertPendingSQL = `INSERT INTO pending_revenues (id, wallet_id, user_id, transaction_id, role, amount, percentage, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (q *Queries) InsertPendingRevenue(ctx context.Context, p domain.PendingRevenue) error {
	_, err := q.db.Exec(ctx, insertPendingSQL, p.ID, p.WalletID, p.UserID, p.TransactionID, p.Role, p.Amount, p.Percentage, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending revenue: %w", err)
	}
	return nil
}

const getPendingSQL = `SELECT ` + pendingColumns + ` FROM pending_revenues WHERE id = $1`

func (q *Queries) GetPendingRevenue(ctx context.Context, id string) (domain.PendingRevenue, error) {
	var p domain.PendingRevenue
	err := q.db.QueryRow(ctx, getPendingSQL, id).Scan(
		&p.ID, &p.WalletID, &p.UserID, &p.TransactionID, &p.Role, &p.Amount, &p.Percentage,
		&p.Status, &p.AdjustedAmount, &p.Note, &p.ReviewedBy, &p.ReviewedAt, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingRevenue{}, domain.ErrPendingRevenueNotFound
	}
	if err != nil {
		return domain.PendingRevenue{}, fmt.Errorf("get pending revenue: %w", err)
	}
	return p, nil
}

// PendingReview is the reviewer's decision on held revenue.
type PendingReview struct {
	ID         string
	To         domain.PendingStatus
	Adjusted   *decimal.Decimal
	Note       *string
	ReviewedBy string
	At         time.Time
}

const reviewPendingSQL = `UPDATE pending_revenues
SET status = $2, adjusted_amount = $3, note = $4, reviewed_by = $5, reviewed_at = $6
WHERE id = $1 AND status = 'PENDING'`

// ReviewPendingRevenue applies r only while the row is PENDING.
func (q *Queries) ReviewPendingRevenue(ctx context.Context, r PendingReview) (bool, error) {
	tag, err := q.db.Exec(ctx, reviewPendingSQL, r.ID, r.To, r.Adjusted, r.Note, r.ReviewedBy, r.At)
	if err != nil {
		return false, fmt.Errorf("review pending revenue: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
