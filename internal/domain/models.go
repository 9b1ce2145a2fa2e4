package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionSuccess  TransactionStatus = "SUCCESS"
	TransactionFailed   TransactionStatus = "FAILED"
	TransactionRefunded TransactionStatus = "REFUNDED"
)

type ItemType string

const (
	ItemMembership ItemType = "MEMBERSHIP"
	ItemProduct    ItemType = "PRODUCT"
	ItemCourse     ItemType = "COURSE"
	ItemEvent      ItemType = "EVENT"
	ItemSupplier   ItemType = "SUPPLIER"
)

// Transaction is the payment record owned by the checkout flow. This service
// only reads it.
type Transaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	Type          ItemType          `json:"type"`
	ItemID        string            `json:"item_id,omitempty"`
	AffiliateID   *string           `json:"affiliate_id,omitempty"`
	AffiliateCode *string           `json:"affiliate_code,omitempty"`
	MentorID      *string           `json:"mentor_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
}

type CommissionType string

const (
	CommissionPercentage CommissionType = "PERCENTAGE"
	CommissionFlat       CommissionType = "FLAT"
)

type ConversionStatus string

const (
	ConversionActive   ConversionStatus = "ACTIVE"
	ConversionRefunded ConversionStatus = "REFUNDED"
)

// Conversion attributes one successful transaction to an affiliate.
// AffiliateID holds the affiliate's user id, not an affiliate profile id.
type Conversion struct {
	ID               string           `json:"id"`
	TransactionID    string           `json:"transaction_id"`
	AffiliateID      string           `json:"affiliate_id"`
	CommissionAmount decimal.Decimal  `json:"commission_amount"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	CommissionType   CommissionType   `json:"commission_type"`
	PaidOut          bool             `json:"paid_out"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	Status           ConversionStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Wallet is a user's running balance plus lifetime totals.
// Balance always equals TotalEarnings - TotalPayout. BalancePending is
// revenue held for review and is not part of either total yet.
type Wallet struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	BalancePending decimal.Decimal `json:"balance_pending"`
	TotalEarnings  decimal.Decimal `json:"total_earnings"`
	TotalPayout    decimal.Decimal `json:"total_payout"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type WalletTxKind string

const (
	WalletTxCommission      WalletTxKind = "COMMISSION"
	WalletTxWithdrawal      WalletTxKind = "WITHDRAWAL"
	WalletTxTopup           WalletTxKind = "TOPUP"
	WalletTxChallengeReward WalletTxKind = "CHALLENGE_REWARD"
	WalletTxPendingRelease  WalletTxKind = "PENDING_RELEASE"
)

// WalletTransaction is one append-only audit entry. Amount is signed:
// withdrawals are negative.
type WalletTransaction struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Type        WalletTxKind    `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Reference   string          `json:"reference"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "PENDING"
	PayoutApproved PayoutStatus = "APPROVED"
	PayoutRejected PayoutStatus = "REJECTED"
)

type Payout struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	BankName      string          `json:"bank_name"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	Status        PayoutStatus    `json:"status"`
	Reason        *string         `json:"reason,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	ProcessedBy   *string         `json:"processed_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ShareRole string

const (
	RoleAffiliate      ShareRole = "AFFILIATE"
	RoleAffiliateBonus ShareRole = "AFFILIATE_BONUS"
	RoleMentor         ShareRole = "MENTOR"
	RoleEventCreator   ShareRole = "EVENT_CREATOR"
	RoleAdmin          ShareRole = "ADMIN"
	RoleFounder        ShareRole = "FOUNDER"
	RoleCoFounder      ShareRole = "COFOUNDER"
)

// House reports whether the role belongs to the platform rather than a
// member. House shares may be held for review before they are spendable.
func (r ShareRole) House() bool {
	return r == RoleAdmin || r == RoleFounder || r == RoleCoFounder
}

// RevenueShare records one credited share of a transaction. The pair
// (TransactionID, Role) is unique.
type RevenueShare struct {
	TransactionID string          `json:"transaction_id"`
	Role          ShareRole       `json:"role"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Held          bool            `json:"held"`
}

type PendingStatus string

const (
	PendingOpen     PendingStatus = "PENDING"
	PendingApproved PendingStatus = "APPROVED"
	PendingAdjusted PendingStatus = "ADJUSTED"
	PendingRejected PendingStatus = "REJECTED"
)

type PendingRevenue struct {
	ID             string           `json:"id"`
	WalletID       string           `json:"wallet_id"`
	UserID         string           `json:"user_id"`
	TransactionID  string           `json:"transaction_id"`
	Role           ShareRole        `json:"role"`
	Amount         decimal.Decimal  `json:"amount"`
	Percentage     decimal.Decimal  `json:"percentage"`
	Status         PendingStatus    `json:"status"`
	AdjustedAmount *decimal.Decimal `json:"adjusted_amount,omitempty"`
	Note           *string          `json:"note,omitempty"`
	ReviewedBy     *string          `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ItemCommission is the per-item override of the default affiliate terms.
type ItemCommission struct {
	ItemType       ItemType         `json:"item_type"`
	ItemID         string           `json:"item_id"`
	CommissionType CommissionType   `json:"commission_type"`
	AffiliateRate  decimal.Decimal  `json:"affiliate_rate"`
	AffiliateBonus decimal.Decimal  `json:"affiliate_bonus"`
	MentorPercent  *decimal.Decimal `json:"mentor_percent,omitempty"`
}

// OutboxEvent is a notification intent written in the same database
// transaction as the ledger change it describes.
type OutboxEvent struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	UserID       string          `json:"user_id"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
}

const (
	EventCommissionCredited = "commission.credited"
	EventRevenueHeld        = "revenue.held"
	EventRevenueReviewed    = "revenue.reviewed"
	EventPayoutRequested    = "payout.requested"
	EventPayoutApproved     = "payout.approved"
	EventPayoutRejected     = "payout.rejected"
)

// LeaderboardEntry is one ranked affiliate. AchievedAt is the time of the
// latest conversion counted in Total, used to break ties.
type LeaderboardEntry struct {
	Rank        int             `json:"rank"`
	AffiliateID string          `json:"affiliate_id"`
	Total       decimal.Decimal `json:"total"`
	Conversions int             `json:"conversions"`
	AchievedAt  time.Time       `json:"achieved_at"`
}
