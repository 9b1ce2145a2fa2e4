package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/commissionledger/internal/domain"
)

const ensureWalletSQL = `INSERT INTO wallets (id, user_id) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`

// EnsureWallet creates an empty wallet for the user if none exists.
func (q *Queries) EnsureWallet(ctx context.Context, userID string) error {
	if _, err := q.db.Exec(ctx, ensureWalletSQL, uuid.NewString(), userID); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

const walletColumns = `id, user_id, balance, balance_pending, total_earnings, total_payout, created_at, updated_at`

const (
	lockWalletSQL = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	getWalletSQL  = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
)

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.BalancePending, &w.TotalEarnings, &w.TotalPayout, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return w, err
}

// LockWallet reads the wallet and holds its row lock until the enclosing
// transaction ends.
func (q *Queries) LockWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, lockWalletSQL, userID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}
	return w, err
}

func (q *Queries) GetWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, getWalletSQL, userID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, err
}

const updateWalletSQL = `UPDATE wallets
SET balance = $2, balance_pending = $3, total_earnings = $4, total_payout = $5, updated_at = $6
WHERE id = $1`

// UpdateWallet writes balances computed by the caller. The row must be locked.
func (q *Queries) UpdateWallet(ctx context.Context, w domain.Wallet) error {
	tag, err := q.db.Exec(ctx, updateWalletSQL, w.ID, w.Balance, w.BalancePending, w.TotalEarnings, w.TotalPayout, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrWalletNotFound
	}
	return nil
}

const insertWalletTxSQL = `INSERT INTO wallet_transactions (id, wallet_id, type, amount, description, status, reference, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (q *Queries) InsertWalletTransaction(ctx context.Context, wt domain.WalletTransaction) error {
	_, err := q.db.Exec(ctx, insertWalletTxSQL,
		wt.ID, wt.WalletID, wt.Type, wt.Amount, wt.Description, wt.Status, wt.Reference, []byte(wt.Metadata), wt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append wallet transaction: %w", err)
	}
	return nil
}

const listWalletTxSQL = `SELECT id, wallet_id, type, amount, description, status, reference, metadata, created_at
FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`

func (q *Queries) ListWalletTransactions(ctx context.Context, walletID string, limit int) ([]domain.WalletTransaction, error) {
	rows, err := q.db.Query(ctx, listWalletTxSQL, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		var wt domain.WalletTransaction
		var metadata []byte
		if err := rows.Scan(&wt.ID, &wt.WalletID, &wt.Type, &wt.Amount, &wt.Description, &wt.Status, &wt.Reference, &metadata, &wt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		wt.Metadata = metadata
		out = append(out, wt)
	}
	return out, rows.Err()
}
