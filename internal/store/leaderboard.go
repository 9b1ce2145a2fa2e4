package store

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/domain"
)

// LeaderboardQuery selects conversions created in [From, To). Nil bounds are
// open. BySales sums the transaction amount instead of the commission.
// Every affiliate is returned so callers can rank users outside the top.
type LeaderboardQuery struct {
	From    *time.Time
	To      *time.Time
	BySales bool
}

const leaderboardSQL = `SELECT c.affiliate_id,
       SUM(CASE WHEN $3::boolean THEN t.amount ELSE c.commission_amount END) AS total,
       COUNT(*) AS conversions,
       MAX(c.created_at) AS achieved_at
FROM conversions c
JOIN transactions t ON t.id = c.transaction_id
WHERE c.status = 'ACTIVE'
  AND t.status = 'SUCCESS'
  AND ($1::timestamptz IS NULL OR c.created_at >= $1)
  AND ($2::timestamptz IS NULL OR c.created_at < $2)
GROUP BY c.affiliate_id
ORDER BY total DESC, achieved_at ASC, c.affiliate_id ASC`

// Leaderboard aggregates conversions per affiliate in ranking order. Rank is
// left for the caller to assign.
func (q *Queries) Leaderboard(ctx context.Context, lq LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	rows, err := q.db.Query(ctx, leaderboardSQL, lq.From, lq.To, lq.BySales)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.AffiliateID, &e.Total, &e.Conversions, &e.AchievedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
