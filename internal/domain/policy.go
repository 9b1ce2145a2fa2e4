package domain

import "github.com/shopspring/decimal"

// MaxScale matches the NUMERIC(20, 2) money columns.
const MaxScale = 2

// Policy is the revenue split configuration in force for one request. It is
// resolved once (settings row, falling back to configuration) and passed
// explicitly to everything that needs it.
type Policy struct {
	DefaultAffiliateRate decimal.Decimal
	AdminFeePercent      decimal.Decimal
	FounderPercent       decimal.Decimal
	CoFounderPercent     decimal.Decimal
	MinWithdrawal        decimal.Decimal
	HoldHouseShares      bool

	// EventCreatorPercent is the creator's cut of an EVENT sale when the item
	// carries no override.
	EventCreatorPercent decimal.Decimal

	// Scale is the number of fractional digits shares are rounded to. Money
	// columns hold two.
	Scale int32

	AdminUserID     string
	FounderUserID   string
	CoFounderUserID string
}

func (p Policy) Validate() error {
	hundred := decimal.NewFromInt(100)
	for _, pct := range []decimal.Decimal{p.DefaultAffiliateRate, p.AdminFeePercent, p.FounderPercent, p.CoFounderPercent, p.EventCreatorPercent} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return ErrInvalidInput
		}
	}
	if !p.FounderPercent.Add(p.CoFounderPercent).Equal(hundred) {
		return ErrInvalidInput
	}
	if p.MinWithdrawal.IsNegative() || p.Scale < 0 || p.Scale > MaxScale {
		return ErrInvalidInput
	}
	return nil
}
