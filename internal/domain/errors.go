package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrTransactionNotFound    = fmt.Errorf("transaction %w", ErrNotFound)
	ErrPayoutNotFound         = fmt.Errorf("payout %w", ErrNotFound)
	ErrWalletNotFound         = fmt.Errorf("wallet %w", ErrNotFound)
	ErrPendingRevenueNotFound = fmt.Errorf("pending revenue %w", ErrNotFound)

	// ErrAlreadyProcessed marks idempotent re-entry. Callers treat it as a
	// successful no-op where the operation allows that.
	ErrAlreadyProcessed = errors.New("already processed")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvariantViolation signals a bug or corrupt input. The enclosing
	// unit of work must abort.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	ErrTransactionNotSettled = errors.New("transaction is not settled")
	ErrInvalidInput          = errors.New("invalid input")
	ErrBelowMinimum          = errors.New("amount below minimum withdrawal")
)
