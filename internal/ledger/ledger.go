// Package ledger applies balance changes to wallets. Every call runs inside
// the caller's unit of work: the wallet row is locked, the new balances are
// checked in Go and written back, and one audit entry is appended.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store is the slice of persistence the ledger needs. It is normally a
// transaction-scoped *store.Queries.
type Store interface {
	EnsureWallet(ctx context.Context, userID string) error
	LockWallet(ctx context.Context, userID string) (domain.Wallet, error)
	UpdateWallet(ctx context.Context, w domain.Wallet) error
	InsertWalletTransaction(ctx context.Context, wt domain.WalletTransaction) error
}

// Entry describes one balance movement. RefID must be stable across retries
// of the same business event (transaction id, payout id).
type Entry struct {
	UserID      string
	Amount      decimal.Decimal
	Kind        domain.WalletTxKind
	Description string
	RefID       string
	Metadata    map[string]any
}

type Ledger struct {
	log zerolog.Logger
	now func() time.Time
}

func New(log zerolog.Logger) *Ledger {
	return &Ledger{
		log: log.With().Str("component", "ledger").Logger(),
		now: time.Now,
	}
}

// Credit adds e.Amount to the user's balance and lifetime earnings, creating
// the wallet on first use.
func (l *Ledger) Credit(ctx context.Context, q Store, e Entry) (decimal.Decimal, error) {
	if err := l.checkAmount(e); err != nil {
		return decimal.Zero, err
	}
	if err := q.EnsureWallet(ctx, e.UserID); err != nil {
		return decimal.Zero, err
	}
	w, err := q.LockWallet(ctx, e.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	w.Balance = w.Balance.Add(e.Amount)
	w.TotalEarnings = w.TotalEarnings.Add(e.Amount)
	if err := l.apply(ctx, q, w, e, e.Amount); err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Debit removes e.Amount from the balance and adds it to lifetime payouts.
// It fails with domain.ErrInsufficientBalance when the balance is short; the
// wallet is left untouched.
func (l *Ledger) Debit(ctx context.Context, q Store, e Entry) (decimal.Decimal, error) {
	if err := l.checkAmount(e); err != nil {
		return decimal.Zero, err
	}
	w, err := q.LockWallet(ctx, e.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	if e.Amount.GreaterThan(w.Balance) {
		return decimal.Zero, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientBalance, w.Balance, e.Amount)
	}

	w.Balance = w.Balance.Sub(e.Amount)
	w.TotalPayout = w.TotalPayout.Add(e.Amount)
	if err := l.apply(ctx, q, w, e, e.Amount.Neg()); err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Hold parks amount in the user's pending balance. It is not spendable and
// not counted as earnings until released.
func (l *Ledger) Hold(ctx context.Context, q Store, userID string, amount decimal.Decimal) (domain.Wallet, error) {
	if !amount.IsPositive() {
		return domain.Wallet{}, fmt.Errorf("%w: hold amount %s must be positive", domain.ErrInvariantViolation, amount)
	}
	if err := q.EnsureWallet(ctx, userID); err != nil {
		return domain.Wallet{}, err
	}
	w, err := q.LockWallet(ctx, userID)
	if err != nil {
		return domain.Wallet{}, err
	}

	w.BalancePending = w.BalancePending.Add(amount)
	w.UpdatedAt = l.now()
	if err := Check(w); err != nil {
		return domain.Wallet{}, err
	}
	if err := q.UpdateWallet(ctx, w); err != nil {
		return domain.Wallet{}, err
	}
	l.log.Debug().Str("user_id", userID).Str("amount", amount.String()).Msg("revenue held")
	return w, nil
}

// Release moves held out of the pending balance and credits e.Amount, which
// may be lower than held after an adjustment.
func (l *Ledger) Release(ctx context.Context, q Store, held decimal.Decimal, e Entry) (decimal.Decimal, error) {
	if err := l.checkAmount(e); err != nil {
		return decimal.Zero, err
	}
	if e.Amount.GreaterThan(held) {
		return decimal.Zero, fmt.Errorf("%w: release %s exceeds held %s", domain.ErrInvariantViolation, e.Amount, held)
	}
	w, err := q.LockWallet(ctx, e.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	w.BalancePending = w.BalancePending.Sub(held)
	w.Balance = w.Balance.Add(e.Amount)
	w.TotalEarnings = w.TotalEarnings.Add(e.Amount)
	if err := l.apply(ctx, q, w, e, e.Amount); err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Drop discards held revenue without crediting anything.
func (l *Ledger) Drop(ctx context.Context, q Store, userID string, held decimal.Decimal) error {
	if !held.IsPositive() {
		return fmt.Errorf("%w: drop amount %s must be positive", domain.ErrInvariantViolation, held)
	}
	w, err := q.LockWallet(ctx, userID)
	if err != nil {
		return err
	}

	w.BalancePending = w.BalancePending.Sub(held)
	w.UpdatedAt = l.now()
	if err := Check(w); err != nil {
		return err
	}
	if err := q.UpdateWallet(ctx, w); err != nil {
		return err
	}
	l.log.Debug().Str("user_id", userID).Str("amount", held.String()).Msg("held revenue dropped")
	return nil
}

// Check verifies the wallet invariants: balance = earnings - payouts and
// nothing negative.
func Check(w domain.Wallet) error {
	switch {
	case w.Balance.IsNegative():
		return fmt.Errorf("%w: wallet %s balance %s is negative", domain.ErrInvariantViolation, w.ID, w.Balance)
	case w.BalancePending.IsNegative():
		return fmt.Errorf("%w: wallet %s pending balance %s is negative", domain.ErrInvariantViolation, w.ID, w.BalancePending)
	case !w.Balance.Equal(w.TotalEarnings.Sub(w.TotalPayout)):
		return fmt.Errorf("%w: wallet %s balance %s != earnings %s - payouts %s",
			domain.ErrInvariantViolation, w.ID, w.Balance, w.TotalEarnings, w.TotalPayout)
	}
	return nil
}

func (l *Ledger) checkAmount(e Entry) error {
	if e.UserID == "" {
		return fmt.Errorf("%w: ledger entry without user", domain.ErrInvariantViolation)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: ledger amount %s must be positive", domain.ErrInvariantViolation, e.Amount)
	}
	return nil
}

// apply validates and persists w and appends the audit entry for e. signed
// is the amount as it appears in the audit trail.
func (l *Ledger) apply(ctx context.Context, q Store, w domain.Wallet, e Entry, signed decimal.Decimal) error {
	now := l.now()
	w.UpdatedAt = now
	if err := Check(w); err != nil {
		l.log.Error().Err(err).Str("user_id", e.UserID).Str("ref_id", e.RefID).Msg("ledger invariant violated")
		return err
	}

	var metadata json.RawMessage
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode ledger metadata: %w", err)
		}
		metadata = raw
	}

	if err := q.UpdateWallet(ctx, w); err != nil {
		return err
	}
	err := q.InsertWalletTransaction(ctx, domain.WalletTransaction{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		Type:        e.Kind,
		Amount:      signed,
		Description: e.Description,
		Status:      "COMPLETED",
		Reference:   e.RefID,
		Metadata:    metadata,
		CreatedAt:   now,
	})
	if err != nil {
		return err
	}

	l.log.Debug().
		Str("user_id", e.UserID).
		Str("kind", string(e.Kind)).
		Str("amount", signed.String()).
		Str("balance", w.Balance.String()).
		Str("ref_id", e.RefID).
		Msg("ledger entry applied")
	return nil
}
