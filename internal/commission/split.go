package commission

import (
	"fmt"

	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Input describes one settled transaction for splitting.
type Input struct {
	Amount      decimal.Decimal
	AffiliateID string
	Terms       Terms

	MentorID      string
	MentorPercent decimal.Decimal

	CreatorID      string
	CreatorPercent decimal.Decimal
}

type Share struct {
	Role   domain.ShareRole
	UserID string
	Amount decimal.Decimal
	// Rate and Type describe how Amount was derived, for the audit trail.
	Rate decimal.Decimal
	Type domain.CommissionType
}

// Plan is the result of Split. Shares are in priority order, highest first.
type Plan struct {
	Amount   decimal.Decimal
	Shares   []Share
	Overflow bool
	Dropped  []domain.ShareRole
}

func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.Shares {
		total = total.Add(s.Amount)
	}
	return total
}

func (p Plan) Share(role domain.ShareRole) (Share, bool) {
	for _, s := range p.Shares {
		if s.Role == role {
			return s, true
		}
	}
	return Share{}, false
}

// Split divides in.Amount between the parties:
//
//	affiliate  rate of the amount (percentage or flat)
//	bonus      flat affiliate bonus from the item, if any
//	creator    CreatorPercent of the whole amount (event sales)
//	mentor     MentorPercent of what is left after the affiliate
//	admin      AdminFeePercent of what is left after affiliate, creator and mentor
//	founders   FounderPercent / remainder of what is left after admin and bonus
//
// The bonus comes out of the founders' pool. A bonus larger than that pool,
// or a flat rate and creator cut that together pass the amount, overflow:
// Overflow is set and shares are dropped from the lowest priority
// (co-founder first) until the plan fits.
func Split(in Input, policy domain.Policy) (Plan, error) {
	if !in.Amount.IsPositive() {
		return Plan{}, fmt.Errorf("%w: transaction amount %s must be positive", domain.ErrInvariantViolation, in.Amount)
	}

	plan := Plan{Amount: in.Amount}
	remaining := in.Amount
	add := func(role domain.ShareRole, userID string, amount, rate decimal.Decimal, typ domain.CommissionType) {
		if userID == "" || !amount.IsPositive() {
			return
		}
		plan.Shares = append(plan.Shares, Share{Role: role, UserID: userID, Amount: amount, Rate: rate, Type: typ})
	}

	if in.AffiliateID != "" {
		affiliate, err := ComputeShare(in.Amount, in.Terms.Rate, in.Terms.Type, policy.Scale)
		if err != nil {
			return Plan{}, fmt.Errorf("affiliate share: %w", err)
		}
		add(domain.RoleAffiliate, in.AffiliateID, affiliate, in.Terms.Rate, in.Terms.Type)
		remaining = remaining.Sub(affiliate)

		if in.Terms.Bonus.IsPositive() {
			bonus, err := ComputeShare(in.Amount, in.Terms.Bonus, domain.CommissionFlat, policy.Scale)
			if err != nil {
				return Plan{}, fmt.Errorf("affiliate bonus: %w", err)
			}
			add(domain.RoleAffiliateBonus, in.AffiliateID, bonus, in.Terms.Bonus, domain.CommissionFlat)
		}
	}

	if in.CreatorID != "" && in.CreatorPercent.IsPositive() {
		creator, err := ComputeShare(in.Amount, in.CreatorPercent, domain.CommissionPercentage, policy.Scale)
		if err != nil {
			return Plan{}, fmt.Errorf("event creator share: %w", err)
		}
		add(domain.RoleEventCreator, in.CreatorID, creator, in.CreatorPercent, domain.CommissionPercentage)
		remaining = remaining.Sub(creator)
	}

	founderMentor := in.MentorID == policy.FounderUserID || in.MentorID == policy.CoFounderUserID
	if in.MentorID != "" && !founderMentor && in.MentorPercent.IsPositive() && remaining.IsPositive() {
		mentor, err := ComputeShare(remaining, in.MentorPercent, domain.CommissionPercentage, policy.Scale)
		if err != nil {
			return Plan{}, fmt.Errorf("mentor share: %w", err)
		}
		add(domain.RoleMentor, in.MentorID, mentor, in.MentorPercent, domain.CommissionPercentage)
		remaining = remaining.Sub(mentor)
	}

	if remaining.IsPositive() {
		admin, err := ComputeShare(remaining, policy.AdminFeePercent, domain.CommissionPercentage, policy.Scale)
		if err != nil {
			return Plan{}, fmt.Errorf("admin fee: %w", err)
		}
		add(domain.RoleAdmin, policy.AdminUserID, admin, policy.AdminFeePercent, domain.CommissionPercentage)
		remaining = remaining.Sub(admin)
	}

	if bonus, ok := plan.Share(domain.RoleAffiliateBonus); ok {
		remaining = remaining.Sub(bonus.Amount)
	}
	if remaining.IsPositive() {
		founder, err := ComputeShare(remaining, policy.FounderPercent, domain.CommissionPercentage, policy.Scale)
		if err != nil {
			return Plan{}, fmt.Errorf("founder share: %w", err)
		}
		add(domain.RoleFounder, policy.FounderUserID, founder, policy.FounderPercent, domain.CommissionPercentage)
		add(domain.RoleCoFounder, policy.CoFounderUserID, remaining.Sub(founder), policy.CoFounderPercent, domain.CommissionPercentage)
	}

	for plan.Total().GreaterThan(in.Amount) {
		last := plan.Shares[len(plan.Shares)-1]
		plan.Shares = plan.Shares[:len(plan.Shares)-1]
		plan.Dropped = append(plan.Dropped, last.Role)
		plan.Overflow = true
	}
	return plan, nil
}
