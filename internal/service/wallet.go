package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
)

type Wallets struct {
	repo   Repository
	ledger *ledger.Ledger
}

func NewWallets(repo Repository, l *ledger.Ledger) *Wallets {
	return &Wallets{repo: repo, ledger: l}
}

// Summary returns the wallet with its latest limit entries and payouts.
func (w *Wallets) Summary(ctx context.Context, userID string, limit int) (ledger.Summary, error) {
	if userID == "" {
		return ledger.Summary{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return w.ledger.Summary(ctx, w.repo, userID, limit)
}
