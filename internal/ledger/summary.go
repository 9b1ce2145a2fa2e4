package ledger

import (
	"context"
	"errors"

	"github.com/punchamoorthee/commissionledger/internal/domain"
)

type SummaryReader interface {
	GetWallet(ctx context.Context, userID string) (domain.Wallet, error)
	ListWalletTransactions(ctx context.Context, walletID string, limit int) ([]domain.WalletTransaction, error)
	ListPayoutsByUser(ctx context.Context, userID string, limit int) ([]domain.Payout, error)
}

// Summary is the wallet page: balances plus the latest activity.
type Summary struct {
	Wallet       domain.Wallet              `json:"wallet"`
	Transactions []domain.WalletTransaction `json:"transactions"`
	Payouts      []domain.Payout            `json:"payouts"`
}

// Summary reads a user's wallet with its most recent entries and payouts. A
// user who has never earned anything gets an empty wallet, not an error.
func (l *Ledger) Summary(ctx context.Context, r SummaryReader, userID string, limit int) (Summary, error) {
	w, err := r.GetWallet(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return Summary{Wallet: domain.Wallet{UserID: userID}, Transactions: []domain.WalletTransaction{}, Payouts: []domain.Payout{}}, nil
	default:
		return Summary{}, err
	}

	txs, err := r.ListWalletTransactions(ctx, w.ID, limit)
	if err != nil {
		return Summary{}, err
	}
	payouts, err := r.ListPayoutsByUser(ctx, userID, limit)
	if err != nil {
		return Summary{}, err
	}
	if txs == nil {
		txs = []domain.WalletTransaction{}
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	return Summary{Wallet: w, Transactions: txs, Payouts: payouts}, nil
}
