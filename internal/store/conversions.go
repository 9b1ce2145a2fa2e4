package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/commissionledger/internal/domain"
)

const conversionColumns = `id, transaction_id, affiliate_id, commission_amount, commission_rate, commission_type, paid_out, paid_at, status, created_at`

func scanConversion(row pgx.Row) (domain.Conversion, error) {
	var c domain.Conversion
	err := row.Scan(&c.ID, &c.TransactionID, &c.AffiliateID, &c.CommissionAmount, &c.CommissionRate,
		&c.CommissionType, &c.PaidOut, &c.PaidAt, &c.Status, &c.CreatedAt)
	return c, err
}

const insertConversionSQL = `INSERT INTO conversions (` + conversionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// InsertConversion fails with domain.ErrAlreadyProcessed when the transaction
// already has a conversion.
func (q *Queries) InsertConversion(ctx context.Context, c domain.Conversion) error {
	_, err := q.db.Exec(ctx, insertConversionSQL,
		c.ID, c.TransactionID, c.AffiliateID, c.CommissionAmount, c.CommissionRate,
		c.CommissionType, c.PaidOut, c.PaidAt, c.Status, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("conversion for transaction %s: %w", c.TransactionID, domain.ErrAlreadyProcessed)
	}
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

const conversionByTransactionSQL = `SELECT ` + conversionColumns + ` FROM conversions WHERE transaction_id = $1`

// ConversionByTransaction returns nil when the transaction has no conversion.
func (q *Queries) ConversionByTransaction(ctx context.Context, transactionID string) (*domain.Conversion, error) {
	c, err := scanConversion(q.db.QueryRow(ctx, conversionByTransactionSQL, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversion by transaction: %w", err)
	}
	return &c, nil
}

const setConversionStatusSQL = `UPDATE conversions SET status = $3 WHERE transaction_id = $1 AND status = $2`

// SetConversionStatus moves a conversion from one status to another and
// reports whether the row was in the expected status.
func (q *Queries) SetConversionStatus(ctx context.Context, transactionID string, from, to domain.ConversionStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, setConversionStatusSQL, transactionID, from, to)
	if err != nil {
		return false, fmt.Errorf("set conversion status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConversionFilter narrows the admin conversion listing. Nil fields are not
// applied.
type ConversionFilter struct {
	AffiliateID string
	PaidOut     *bool
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

const listConversionsSQL = `SELECT ` + conversionColumns + `, count(*) OVER ()
FROM conversions
WHERE ($1::text = '' OR affiliate_id = $1)
  AND ($2::boolean IS NULL OR paid_out = $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at < $4)
ORDER BY created_at DESC, id
LIMIT $5 OFFSET $6`

// ListConversions returns one page and the total number of matches.
func (q *Queries) ListConversions(ctx context.Context, f ConversionFilter) ([]domain.Conversion, int, error) {
	rows, err := q.db.Query(ctx, listConversionsSQL, f.AffiliateID, f.PaidOut, f.From, f.To, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var (
		out   []domain.Conversion
		total int
	)
	for rows.Next() {
		var c domain.Conversion
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.AffiliateID, &c.CommissionAmount, &c.CommissionRate,
			&c.CommissionType, &c.PaidOut, &c.PaidAt, &c.Status, &c.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

const lockUnpaidConversionsSQL = `SELECT ` + conversionColumns + `
FROM conversions WHERE affiliate_id = $1 AND paid_out = false AND status = 'ACTIVE'
ORDER BY created_at, id FOR UPDATE`

// LockUnpaidConversions returns the affiliate's active unpaid conversions,
// oldest first, locked for the enclosing transaction.
func (q *Queries) LockUnpaidConversions(ctx context.Context, affiliateID string) ([]domain.Conversion, error) {
	rows, err := q.db.Query(ctx, lockUnpaidConversionsSQL, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("lock unpaid conversions: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const markConversionsPaidSQL = `UPDATE conversions SET paid_out = true, paid_at = $2 WHERE id = ANY($1) AND paid_out = false`

func (q *Queries) MarkConversionsPaid(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, markConversionsPaidSQL, ids, at); err != nil {
		return fmt.Errorf("mark conversions paid: %w", err)
	}
	return nil
}
