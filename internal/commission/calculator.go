// Package commission computes how a transaction amount is split between the
// affiliate, the mentor and the house. Everything here is pure: no I/O and no
// floating point.
package commission

import (
	"fmt"

	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeShare returns the share of amount earned at rate. Percentage shares
// are rounded half-up to scale fractional digits; flat shares are capped at
// amount. The result is always within [0, amount].
func ComputeShare(amount, rate decimal.Decimal, typ domain.CommissionType, scale int32) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount %s must be positive", domain.ErrInvariantViolation, amount)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative rate %s", domain.ErrInvariantViolation, rate)
	}

	var share decimal.Decimal
	switch typ {
	case domain.CommissionPercentage:
		share = amount.Mul(rate).Div(hundred).Round(scale)
	case domain.CommissionFlat:
		share = decimal.Min(rate, amount).Round(scale)
	default:
		return decimal.Zero, fmt.Errorf("%w: commission type %q", domain.ErrInvalidInput, typ)
	}

	if share.IsNegative() {
		share = decimal.Zero
	}
	if share.GreaterThan(amount) {
		share = amount
	}
	return share, nil
}

// Terms are the affiliate terms that apply to one purchased item.
type Terms struct {
	Type  domain.CommissionType
	Rate  decimal.Decimal
	Bonus decimal.Decimal
}

// ResolveTerms picks the item override when there is one and the policy
// default (a percentage) otherwise. A zero override rate also falls back to
// the default, matching how items without a configured rate behave.
func ResolveTerms(item *domain.ItemCommission, policy domain.Policy) Terms {
	def := Terms{Type: domain.CommissionPercentage, Rate: policy.DefaultAffiliateRate}
	if item == nil {
		return def
	}
	terms := Terms{Type: item.CommissionType, Rate: item.AffiliateRate, Bonus: item.AffiliateBonus}
	if terms.Type == "" {
		terms.Type = domain.CommissionPercentage
	}
	if !terms.Rate.IsPositive() {
		terms.Type, terms.Rate = def.Type, def.Rate
	}
	if terms.Bonus.IsNegative() {
		terms.Bonus = decimal.Zero
	}
	return terms
}
