package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/shopspring/decimal"
)

// memState is an in-memory Repository. memUoW serializes units of work with a
// mutex, which stands in for the row locks Postgres would take, and restores
// a snapshot when a unit fails.
type memState struct {
	transactions map[string]domain.Transaction
	links        map[string]string
	items        map[string]domain.ItemCommission
	settings     *domain.Policy
	wallets      map[string]domain.Wallet
	walletTxs    []domain.WalletTransaction
	conversions  []domain.Conversion
	shares       []domain.RevenueShare
	payouts      map[string]domain.Payout
	pending      map[string]domain.PendingRevenue
	outbox       []domain.OutboxEvent

	fail map[string]error
}

type memUoW struct {
	mu sync.Mutex
	*memState
}

func newMemUoW() *memUoW {
	return &memUoW{memState: &memState{
		transactions: map[string]domain.Transaction{},
		links:        map[string]string{},
		items:        map[string]domain.ItemCommission{},
		wallets:      map[string]domain.Wallet{},
		payouts:      map[string]domain.Payout{},
		pending:      map[string]domain.PendingRevenue{},
		fail:         map[string]error{},
	}}
}

func (u *memUoW) InTx(_ context.Context, fn func(q Repository) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	snapshot := u.memState.clone()
	if err := fn(u.memState); err != nil {
		*u.memState = *snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	return &memState{
		transactions: maps.Clone(s.transactions),
		links:        maps.Clone(s.links),
		items:        maps.Clone(s.items),
		settings:     s.settings,
		wallets:      maps.Clone(s.wallets),
		walletTxs:    slices.Clone(s.walletTxs),
		conversions:  slices.Clone(s.conversions),
		shares:       slices.Clone(s.shares),
		payouts:      maps.Clone(s.payouts),
		pending:      maps.Clone(s.pending),
		outbox:       slices.Clone(s.outbox),
		fail:         s.fail,
	}
}

func (s *memState) failing(op string) error {
	return s.fail[op]
}

func (s *memState) EnsureWallet(_ context.Context, userID string) error {
	if _, ok := s.wallets[userID]; !ok {
		s.wallets[userID] = domain.Wallet{ID: "w-" + userID, UserID: userID}
	}
	return nil
}

func (s *memState) LockWallet(_ context.Context, userID string) (domain.Wallet, error) {
	w, ok := s.wallets[userID]
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return w, nil
}

func (s *memState) GetWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	return s.LockWallet(ctx, userID)
}

func (s *memState) UpdateWallet(_ context.Context, w domain.Wallet) error {
	if err := s.failing("UpdateWallet"); err != nil {
		return err
	}
	s.wallets[w.UserID] = w
	return nil
}

func (s *memState) InsertWalletTransaction(_ context.Context, wt domain.WalletTransaction) error {
	s.walletTxs = append(s.walletTxs, wt)
	return nil
}

func (s *memState) ListWalletTransactions(_ context.Context, walletID string, limit int) ([]domain.WalletTransaction, error) {
	var out []domain.WalletTransaction
	for i := len(s.walletTxs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.walletTxs[i].WalletID == walletID {
			out = append(out, s.walletTxs[i])
		}
	}
	return out, nil
}

func (s *memState) ListPayoutsByUser(_ context.Context, userID string, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	for _, p := range s.payouts {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memState) LockTransaction(_ context.Context, id string) (domain.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return t, nil
}

func (s *memState) AffiliateUserByCode(_ context.Context, code string) (string, error) {
	return s.links[code], nil
}

func (s *memState) ItemCommission(_ context.Context, itemType domain.ItemType, itemID string) (*domain.ItemCommission, error) {
	ic, ok := s.items[string(itemType)+"/"+itemID]
	if !ok {
		return nil, nil
	}
	return &ic, nil
}

func (s *memState) LoadPolicy(_ context.Context, base domain.Policy) (domain.Policy, error) {
	if s.settings == nil {
		return base, nil
	}
	p := base
	p.DefaultAffiliateRate = s.settings.DefaultAffiliateRate
	p.AdminFeePercent = s.settings.AdminFeePercent
	p.FounderPercent = s.settings.FounderPercent
	p.CoFounderPercent = s.settings.CoFounderPercent
	p.MinWithdrawal = s.settings.MinWithdrawal
	p.HoldHouseShares = s.settings.HoldHouseShares
	return p, p.Validate()
}

func (s *memState) HasRevenueShares(_ context.Context, transactionID string) (bool, error) {
	for _, rs := range s.shares {
		if rs.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memState) ClaimRevenueShare(_ context.Context, share domain.RevenueShare) (bool, error) {
	for _, rs := range s.shares {
		if rs.TransactionID == share.TransactionID && rs.Role == share.Role {
			return false, nil
		}
	}
	s.shares = append(s.shares, share)
	return true, nil
}

func (s *memState) ListRevenueShares(_ context.Context, transactionID string) ([]domain.RevenueShare, error) {
	var out []domain.RevenueShare
	for _, rs := range s.shares {
		if rs.TransactionID == transactionID {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (s *memState) InsertConversion(_ context.Context, c domain.Conversion) error {
	if err := s.failing("InsertConversion"); err != nil {
		return err
	}
	for _, existing := range s.conversions {
		if existing.TransactionID == c.TransactionID {
			return fmt.Errorf("conversion for transaction %s: %w", c.TransactionID, domain.ErrAlreadyProcessed)
		}
	}
	s.conversions = append(s.conversions, c)
	return nil
}

func (s *memState) ConversionByTransaction(_ context.Context, transactionID string) (*domain.Conversion, error) {
	for _, c := range s.conversions {
		if c.TransactionID == transactionID {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memState) SetConversionStatus(_ context.Context, transactionID string, from, to domain.ConversionStatus) (bool, error) {
	for i, c := range s.conversions {
		if c.TransactionID == transactionID && c.Status == from {
			s.conversions[i].Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *memState) ListConversions(_ context.Context, f store.ConversionFilter) ([]domain.Conversion, int, error) {
	var matched []domain.Conversion
	for _, c := range s.conversions {
		switch {
		case f.AffiliateID != "" && c.AffiliateID != f.AffiliateID:
		case f.PaidOut != nil && c.PaidOut != *f.PaidOut:
		case f.From != nil && c.CreatedAt.Before(*f.From):
		case f.To != nil && !c.CreatedAt.Before(*f.To):
		default:
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *memState) LockUnpaidConversions(_ context.Context, affiliateID string) ([]domain.Conversion, error) {
	var out []domain.Conversion
	for _, c := range s.conversions {
		if c.AffiliateID == affiliateID && !c.PaidOut && c.Status == domain.ConversionActive {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) MarkConversionsPaid(_ context.Context, ids []string, at time.Time) error {
	for i, c := range s.conversions {
		if slices.Contains(ids, c.ID) && !c.PaidOut {
			paidAt := at
			s.conversions[i].PaidOut = true
			s.conversions[i].PaidAt = &paidAt
		}
	}
	return nil
}

func (s *memState) InsertPayout(_ context.Context, p domain.Payout) error {
	s.payouts[p.ID] = p
	return nil
}

func (s *memState) GetPayout(_ context.Context, id string) (domain.Payout, error) {
	p, ok := s.payouts[id]
	if !ok {
		return domain.Payout{}, domain.ErrPayoutNotFound
	}
	return p, nil
}

func (s *memState) SumPendingPayouts(_ context.Context, userID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range s.payouts {
		if p.UserID == userID && p.Status == domain.PayoutPending {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (s *memState) DecidePayout(_ context.Context, d store.PayoutDecision) (domain.Payout, bool, error) {
	p, ok := s.payouts[d.ID]
	if !ok || p.Status != domain.PayoutPending {
		return domain.Payout{}, false, nil
	}
	at, by := d.At, d.ProcessedBy
	p.Status, p.ProcessedAt, p.ProcessedBy, p.Reason = d.To, &at, &by, d.Reason
	s.payouts[d.ID] = p
	return p, true, nil
}

func (s *memState) InsertPendingRevenue(_ context.Context, p domain.PendingRevenue) error {
	s.pending[p.ID] = p
	return nil
}

func (s *memState) GetPendingRevenue(_ context.Context, id string) (domain.PendingRevenue, error) {
	p, ok := s.pending[id]
	if !ok {
		return domain.PendingRevenue{}, domain.ErrPendingRevenueNotFound
	}
	return p, nil
}

func (s *memState) ReviewPendingRevenue(_ context.Context, r store.PendingReview) (bool, error) {
	p, ok := s.pending[r.ID]
	if !ok || p.Status != domain.PendingOpen {
		return false, nil
	}
	at, by := r.At, r.ReviewedBy
	p.Status, p.AdjustedAmount, p.Note, p.ReviewedBy, p.ReviewedAt = r.To, r.Adjusted, r.Note, &by, &at
	s.pending[r.ID] = p
	return true, nil
}

func (s *memState) InsertOutboxEvent(_ context.Context, e domain.OutboxEvent) error {
	s.outbox = append(s.outbox, e)
	return nil
}

func (s *memState) Leaderboard(_ context.Context, lq store.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	byAffiliate := map[string]*domain.LeaderboardEntry{}
	for _, c := range s.conversions {
		t := s.transactions[c.TransactionID]
		if c.Status != domain.ConversionActive || t.Status != domain.TransactionSuccess {
			continue
		}
		if (lq.From != nil && c.CreatedAt.Before(*lq.From)) || (lq.To != nil && !c.CreatedAt.Before(*lq.To)) {
			continue
		}
		e, ok := byAffiliate[c.AffiliateID]
		if !ok {
			e = &domain.LeaderboardEntry{AffiliateID: c.AffiliateID}
			byAffiliate[c.AffiliateID] = e
		}
		if lq.BySales {
			e.Total = e.Total.Add(t.Amount)
		} else {
			e.Total = e.Total.Add(c.CommissionAmount)
		}
		e.Conversions++
		if c.CreatedAt.After(e.AchievedAt) {
			e.AchievedAt = c.CreatedAt
		}
	}
	var out []domain.LeaderboardEntry
	for _, e := range byAffiliate {
		out = append(out, *e)
	}
	return out, nil
}

func (s *memState) pendingFor(userID string) (domain.PendingRevenue, bool) {
	for _, p := range s.pending {
		if p.UserID == userID {
			return p, true
		}
	}
	return domain.PendingRevenue{}, false
}

func (s *memState) eventsOf(kind string) int {
	n := 0
	for _, e := range s.outbox {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
