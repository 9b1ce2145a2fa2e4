package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/config"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr[T any](v T) *T { return &v }

func testPolicy() domain.Policy {
	return domain.Policy{
		DefaultAffiliateRate: d(10),
		AdminFeePercent:      d(15),
		FounderPercent:       d(60),
		CoFounderPercent:     d(40),
		MinWithdrawal:        d(10000),
		AdminUserID:          "admin",
		FounderUserID:        "founder",
		CoFounderUserID:      "cofounder",
	}
}

type harness struct {
	uow      *memUoW
	recorder *ConversionRecorder
	payouts  *PayoutWorkflow
	review   *RevenueReview
	board    *Leaderboard
	wallets  *Wallets
}

func newHarness(policy domain.Policy) *harness {
	uow := newMemUoW()
	l := ledger.New(zerolog.Nop())
	h := &harness{
		uow:      uow,
		recorder: NewConversionRecorder(uow, l, policy, zerolog.Nop()),
		payouts:  NewPayoutWorkflow(uow, l, policy, zerolog.Nop()),
		review:   NewRevenueReview(uow, l, zerolog.Nop()),
		board:    NewLeaderboard(uow, time.UTC, 10, 100),
		wallets:  NewWallets(uow, l),
	}
	clock := func() time.Time { return fixedNow }
	h.recorder.now, h.payouts.now, h.review.now, h.board.now = clock, clock, clock, clock
	return h
}

func (h *harness) addTransaction(id string, amount int64, affiliate string) {
	t := domain.Transaction{
		ID:        id,
		UserID:    "buyer",
		Amount:    d(amount),
		Status:    domain.TransactionSuccess,
		Type:      domain.ItemMembership,
		CreatedAt: fixedNow,
	}
	if affiliate != "" {
		t.AffiliateID = ptr(affiliate)
	}
	h.uow.transactions[id] = t
}

func (h *harness) balance(userID string) decimal.Decimal {
	return h.uow.wallets[userID].Balance
}

func TestRecordConversion_SplitsAndCredits(t *testing.T) {
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")

	res, err := h.recorder.RecordConversion(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Len(t, res.Shares, 4)

	assert.True(t, d(29900).Equal(h.balance("aff")))
	assert.True(t, d(40365).Equal(h.balance("admin")))
	assert.True(t, d(137241).Equal(h.balance("founder")))
	assert.True(t, d(91494).Equal(h.balance("cofounder")))

	total := decimal.Zero
	for _, w := range h.uow.wallets {
		require.NoError(t, ledger.Check(w))
		total = total.Add(w.Balance)
	}
	assert.True(t, d(299000).Equal(total), "every unit of the sale is distributed")

	require.NotNil(t, res.Conversion)
	assert.Equal(t, "aff", res.Conversion.AffiliateID)
	assert.True(t, d(29900).Equal(res.Conversion.CommissionAmount))
	assert.False(t, res.Conversion.PaidOut)
	assert.Len(t, h.uow.conversions, 1)
	assert.Len(t, h.uow.walletTxs, 4)
	assert.Equal(t, 4, h.uow.eventsOf(domain.EventCommissionCredited))
	for _, wt := range h.uow.walletTxs {
		assert.Equal(t, "tx-1", wt.Reference)
	}
}

func TestRecordConversion_SecondCallIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")

	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	walletsBefore := len(h.uow.walletTxs)

	res, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Len(t, res.Shares, 4)
	require.NotNil(t, res.Conversion)
	assert.True(t, d(29900).Equal(h.balance("aff")))
	assert.Len(t, h.uow.walletTxs, walletsBefore)
	assert.Len(t, h.uow.conversions, 1)
}

func TestRecordConversion_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")

	var wg sync.WaitGroup
	results := make([]ConversionResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.recorder.RecordConversion(context.Background(), "tx-1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if !r.NoOp {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.True(t, d(29900).Equal(h.balance("aff")))
	assert.Len(t, h.uow.shares, 4)
}

func TestRecordConversion_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-pending", 1000, "aff")
	tx := h.uow.transactions["tx-pending"]
	tx.Status = domain.TransactionPending
	h.uow.transactions["tx-pending"] = tx

	_, err := h.recorder.RecordConversion(ctx, "tx-pending")
	assert.ErrorIs(t, err, domain.ErrTransactionNotSettled)

	_, err = h.recorder.RecordConversion(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Empty(t, h.uow.wallets)
	assert.Empty(t, h.uow.shares)
}

func TestRecordConversion_FailureRollsBackEverything(t *testing.T) {
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	h.uow.fail["InsertConversion"] = errors.New("connection reset")

	_, err := h.recorder.RecordConversion(context.Background(), "tx-1")
	require.Error(t, err)
	assert.Empty(t, h.uow.wallets)
	assert.Empty(t, h.uow.walletTxs)
	assert.Empty(t, h.uow.shares)
	assert.Empty(t, h.uow.outbox)

	delete(h.uow.fail, "InsertConversion")
	res, err := h.recorder.RecordConversion(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.False(t, res.NoOp, "a rolled back attempt leaves nothing behind")
}

func TestRecordConversion_Attribution(t *testing.T) {
	ctx := context.Background()

	t.Run("referral code", func(t *testing.T) {
		h := newHarness(testPolicy())
		h.addTransaction("tx-1", 299000, "")
		tx := h.uow.transactions["tx-1"]
		tx.AffiliateCode = ptr("SAVE10")
		h.uow.transactions["tx-1"] = tx
		h.uow.links["SAVE10"] = "aff"

		res, err := h.recorder.RecordConversion(ctx, "tx-1")
		require.NoError(t, err)
		require.NotNil(t, res.Conversion)
		assert.Equal(t, "aff", res.Conversion.AffiliateID)
	})

	t.Run("self referral", func(t *testing.T) {
		h := newHarness(testPolicy())
		h.addTransaction("tx-1", 299000, "buyer")

		res, err := h.recorder.RecordConversion(ctx, "tx-1")
		require.NoError(t, err)
		assert.Nil(t, res.Conversion)
		assert.Empty(t, h.uow.conversions)
		_, ok := h.uow.wallets["buyer"]
		assert.False(t, ok)
		assert.True(t, d(44850).Equal(h.balance("admin")))
	})

	t.Run("unattributed sale still pays the house", func(t *testing.T) {
		h := newHarness(testPolicy())
		h.addTransaction("tx-1", 299000, "")

		res, err := h.recorder.RecordConversion(ctx, "tx-1")
		require.NoError(t, err)
		assert.Nil(t, res.Conversion)
		assert.Len(t, res.Shares, 3)

		again, err := h.recorder.RecordConversion(ctx, "tx-1")
		require.NoError(t, err)
		assert.True(t, again.NoOp)
	})
}

func TestRecordConversion_ItemOverrideAndMentor(t *testing.T) {
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 1000000, "aff")
	tx := h.uow.transactions["tx-1"]
	tx.Type, tx.ItemID, tx.MentorID = domain.ItemCourse, "course-1", ptr("mentor")
	h.uow.transactions["tx-1"] = tx
	h.uow.items["COURSE/course-1"] = domain.ItemCommission{
		ItemType:       domain.ItemCourse,
		ItemID:         "course-1",
		CommissionType: domain.CommissionPercentage,
		AffiliateRate:  d(10),
		MentorPercent:  ptr(d(50)),
	}

	_, err := h.recorder.RecordConversion(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.True(t, d(100000).Equal(h.balance("aff")))
	assert.True(t, d(450000).Equal(h.balance("mentor")))
	assert.True(t, d(67500).Equal(h.balance("admin")))
}

func TestRecordConversion_EventCreator(t *testing.T) {
	policy := testPolicy()
	policy.EventCreatorPercent = d(70)
	h := newHarness(policy)

	h.addTransaction("tx-1", 200000, "aff")
	tx := h.uow.transactions["tx-1"]
	tx.Type, tx.ItemID, tx.MentorID = domain.ItemEvent, "event-1", ptr("creator")
	h.uow.transactions["tx-1"] = tx

	res, err := h.recorder.RecordConversion(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.False(t, res.Overflow)
	assert.True(t, d(20000).Equal(h.balance("aff")))
	assert.True(t, d(140000).Equal(h.balance("creator")))
	assert.True(t, d(6000).Equal(h.balance("admin")))
	assert.True(t, d(20400).Equal(h.balance("founder")))
	assert.True(t, d(13600).Equal(h.balance("cofounder")))

	t.Run("item override", func(t *testing.T) {
		h.addTransaction("tx-2", 100000, "")
		tx := h.uow.transactions["tx-2"]
		tx.Type, tx.ItemID, tx.MentorID = domain.ItemEvent, "event-2", ptr("creator-2")
		h.uow.transactions["tx-2"] = tx
		h.uow.items["EVENT/event-2"] = domain.ItemCommission{
			ItemType:       domain.ItemEvent,
			ItemID:         "event-2",
			CommissionType: domain.CommissionPercentage,
			MentorPercent:  ptr(d(50)),
		}

		_, err := h.recorder.RecordConversion(context.Background(), "tx-2")
		require.NoError(t, err)
		assert.True(t, d(50000).Equal(h.balance("creator-2")))
	})
}

func TestRecordConversion_HeldHouseSharesAndReview(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	policy.HoldHouseShares = true
	h := newHarness(policy)
	h.addTransaction("tx-1", 299000, "aff")

	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, d(29900).Equal(h.balance("aff")), "the affiliate share is never held")

	founder := h.uow.wallets["founder"]
	assert.True(t, founder.Balance.IsZero())
	assert.True(t, d(137241).Equal(founder.BalancePending))
	assert.Len(t, h.uow.pending, 3)
	assert.Equal(t, 3, h.uow.eventsOf(domain.EventRevenueHeld))

	t.Run("adjusted approval", func(t *testing.T) {
		p, ok := h.uow.pendingFor("founder")
		require.True(t, ok)

		_, err := h.review.Approve(ctx, p.ID, "ops", ptr(d(0)), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = h.review.Approve(ctx, p.ID, "ops", ptr(d(137242)), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		out, err := h.review.Approve(ctx, p.ID, "ops", ptr(d(130000)), "chargeback reserve")
		require.NoError(t, err)
		assert.Equal(t, domain.PendingAdjusted, out.Status)

		w := h.uow.wallets["founder"]
		assert.True(t, d(130000).Equal(w.Balance))
		assert.True(t, d(130000).Equal(w.TotalEarnings))
		assert.True(t, w.BalancePending.IsZero())
		require.NoError(t, ledger.Check(w))

		_, err = h.review.Approve(ctx, p.ID, "ops", nil, "")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	})

	t.Run("full approval", func(t *testing.T) {
		p, ok := h.uow.pendingFor("cofounder")
		require.True(t, ok)
		out, err := h.review.Approve(ctx, p.ID, "ops", nil, "")
		require.NoError(t, err)
		assert.Equal(t, domain.PendingApproved, out.Status)
		assert.True(t, d(91494).Equal(h.balance("cofounder")))
	})

	t.Run("reject", func(t *testing.T) {
		p, ok := h.uow.pendingFor("admin")
		require.True(t, ok)
		_, err := h.review.Reject(ctx, p.ID, "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		out, err := h.review.Reject(ctx, p.ID, "ops", "duplicate order")
		require.NoError(t, err)
		assert.Equal(t, domain.PendingRejected, out.Status)
		w := h.uow.wallets["admin"]
		assert.True(t, w.Balance.IsZero())
		assert.True(t, w.BalancePending.IsZero())

		_, err = h.review.Reject(ctx, p.ID, "ops", "")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	})

	_, err = h.review.Approve(ctx, "missing", "ops", nil, "")
	assert.ErrorIs(t, err, domain.ErrPendingRevenueNotFound)
}

func TestMarkRefunded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)

	_, err = h.recorder.MarkRefunded(ctx, "tx-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "transaction is still SUCCESS")

	tx := h.uow.transactions["tx-1"]
	tx.Status = domain.TransactionRefunded
	h.uow.transactions["tx-1"] = tx

	conv, err := h.recorder.MarkRefunded(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversionRefunded, conv.Status)
	assert.True(t, d(29900).Equal(h.balance("aff")), "refunds do not claw back credited shares")

	_, err = h.recorder.MarkRefunded(ctx, "tx-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	h.addTransaction("tx-2", 1000, "")
	tx2 := h.uow.transactions["tx-2"]
	tx2.Status = domain.TransactionRefunded
	h.uow.transactions["tx-2"] = tx2
	_, err = h.recorder.MarkRefunded(ctx, "tx-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListConversions_Paging(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	for i := 0; i < 25; i++ {
		h.uow.conversions = append(h.uow.conversions, domain.Conversion{
			ID:          string(rune('a' + i)),
			AffiliateID: "aff",
			CreatedAt:   fixedNow.Add(time.Duration(i) * time.Minute),
			Status:      domain.ConversionActive,
		})
	}

	page, err := h.recorder.ListConversions(ctx, store.ConversionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 25, page.Total)
	assert.Len(t, page.Conversions, 20)

	page, err = h.recorder.ListConversions(ctx, store.ConversionFilter{Limit: 500, Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Limit)
	assert.Len(t, page.Conversions, 5)

	page, err = h.recorder.ListConversions(ctx, store.ConversionFilter{AffiliateID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, page.Conversions)
	assert.Empty(t, page.Conversions)
}

func TestPayoutRequest_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)

	_, err = h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(0)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(9999)})
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(29901)})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.payouts.Request(ctx, PayoutRequest{UserID: "stranger", Amount: d(10000)})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(20000), BankName: "BCA", AccountNumber: "123", AccountName: "Aff"})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutPending, p.Status)

	_, err = h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(10000)})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance, "pending payouts reserve the balance")

	assert.True(t, d(29900).Equal(h.balance("aff")), "requesting does not move money")
	assert.Equal(t, 1, h.uow.eventsOf(domain.EventPayoutRequested))
}

func TestPayoutApprove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)

	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(29900)})
	require.NoError(t, err)

	_, err = h.payouts.Approve(ctx, p.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	approved, err := h.payouts.Approve(ctx, p.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutApproved, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, "ops", *approved.ProcessedBy)

	w := h.uow.wallets["aff"]
	assert.True(t, w.Balance.IsZero())
	assert.True(t, d(29900).Equal(w.TotalPayout))
	require.NoError(t, ledger.Check(w))
	assert.True(t, h.uow.conversions[0].PaidOut, "the covered conversion is marked paid")

	last := h.uow.walletTxs[len(h.uow.walletTxs)-1]
	assert.Equal(t, domain.WalletTxWithdrawal, last.Type)
	assert.Equal(t, p.ID, last.Reference)
	assert.True(t, d(-29900).Equal(last.Amount))

	_, err = h.payouts.Approve(ctx, p.ID, "ops")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.True(t, h.balance("aff").IsZero())

	_, err = h.payouts.Approve(ctx, "missing", "ops")
	assert.ErrorIs(t, err, domain.ErrPayoutNotFound)
}

func TestEndToEnd_ShippedDefaults(t *testing.T) {
	t.Setenv("APP_DATABASE_DSN", "postgres://ledger@localhost:5432/ledger")
	t.Setenv("APP_COMMISSION_ADMIN_USER_ID", "admin")
	t.Setenv("APP_COMMISSION_FOUNDER_USER_ID", "founder")
	t.Setenv("APP_COMMISSION_COFOUNDER_USER_ID", "cofounder")
	cfg, err := config.Load("")
	require.NoError(t, err)
	policy, err := cfg.Policy()
	require.NoError(t, err)

	ctx := context.Background()
	h := newHarness(policy)
	h.addTransaction("tx-1", 299000, "aff")

	res, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, res.Conversion)
	assert.True(t, d(29900).Equal(res.Conversion.CommissionAmount))
	assert.True(t, d(29900).Equal(h.balance("aff")))

	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(29900)})
	require.NoError(t, err)
	_, err = h.payouts.Approve(ctx, p.ID, "ops")
	require.NoError(t, err)

	w := h.uow.wallets["aff"]
	assert.True(t, w.Balance.IsZero())
	assert.True(t, d(29900).Equal(w.TotalPayout))
	require.NoError(t, ledger.Check(w))
}

func TestPayoutApprove_PartialDoesNotSettleLargerConversion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)

	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(20000)})
	require.NoError(t, err)
	_, err = h.payouts.Approve(ctx, p.ID, "ops")
	require.NoError(t, err)

	assert.True(t, d(9900).Equal(h.balance("aff")))
	assert.False(t, h.uow.conversions[0].PaidOut)
}

func TestPayoutApprove_ConcurrentDebitsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(20000)})
	require.NoError(t, err)

	const admins = 10
	errs := make([]error, admins)
	var wg sync.WaitGroup
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.payouts.Approve(ctx, p.ID, "ops")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, d(9900).Equal(h.balance("aff")))
	assert.True(t, d(20000).Equal(h.uow.wallets["aff"].TotalPayout))
}

func TestPayoutApprove_InsufficientBalanceLeavesPayoutPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(20000)})
	require.NoError(t, err)

	w := h.uow.wallets["aff"]
	w.Balance, w.TotalPayout = d(5000), d(24900)
	h.uow.wallets["aff"] = w
	before := len(h.uow.walletTxs)

	_, err = h.payouts.Approve(ctx, p.ID, "ops")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.PayoutPending, h.uow.payouts[p.ID].Status)
	assert.Equal(t, w, h.uow.wallets["aff"])
	assert.Len(t, h.uow.walletTxs, before)
}

func TestPayoutReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)
	p, err := h.payouts.Request(ctx, PayoutRequest{UserID: "aff", Amount: d(20000)})
	require.NoError(t, err)

	rejected, err := h.payouts.Reject(ctx, p.ID, "ops", " wrong account ")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutRejected, rejected.Status)
	require.NotNil(t, rejected.Reason)
	assert.Equal(t, "wrong account", *rejected.Reason)
	assert.True(t, d(29900).Equal(h.balance("aff")))

	_, err = h.payouts.Approve(ctx, p.ID, "ops")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	got, err := h.payouts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutRejected, got.Status)

	list, err := h.payouts.ListByUser(ctx, "aff", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWindow(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// Wednesday 14 Oct 2026 12:00 UTC is 19:00 in Jakarta.
	from, to, err := Window(PeriodWeek, fixedNow, jakarta)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 12, 0, 0, 0, 0, jakarta), *from)
	assert.Equal(t, time.Date(2026, time.October, 19, 0, 0, 0, 0, jakarta), *to)

	sunday := time.Date(2026, time.October, 18, 23, 0, 0, 0, jakarta)
	from, _, err = Window(PeriodWeek, sunday, jakarta)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 12, 0, 0, 0, 0, jakarta), *from, "sunday belongs to the week that started monday")

	from, to, err = Window(PeriodMonth, fixedNow, jakarta)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 1, 0, 0, 0, 0, jakarta), *from)
	assert.Equal(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, jakarta), *to)

	from, to, err = Window(PeriodAllTime, fixedNow, jakarta)
	require.NoError(t, err)
	assert.Nil(t, from)
	assert.Nil(t, to)

	_, _, err = Window("fortnight", fixedNow, jakarta)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRank_Deterministic(t *testing.T) {
	early := fixedNow.Add(-time.Hour)
	entries := []domain.LeaderboardEntry{
		{AffiliateID: "c", Total: d(500), AchievedAt: fixedNow},
		{AffiliateID: "b", Total: d(500), AchievedAt: early},
		{AffiliateID: "a", Total: d(500), AchievedAt: fixedNow},
		{AffiliateID: "z", Total: d(900), AchievedAt: fixedNow},
	}

	ranked := Rank(entries)
	var ids []string
	for i, e := range ranked {
		ids = append(ids, e.AffiliateID)
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, []string{"z", "b", "a", "c"}, ids)
	assert.Equal(t, 3, RankOf(ranked, "a"))
	assert.Equal(t, 0, RankOf(ranked, "nobody"))

	reversed := make([]domain.LeaderboardEntry, len(entries))
	for i := range entries {
		reversed[i] = entries[len(entries)-1-i]
	}
	assert.Equal(t, ranked, Rank(reversed))
}

func TestLeaderboardAggregate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())

	seed := func(txID, affiliate string, amount, commission int64, at time.Time, status domain.ConversionStatus) {
		h.addTransaction(txID, amount, affiliate)
		h.uow.conversions = append(h.uow.conversions, domain.Conversion{
			ID: "c-" + txID, TransactionID: txID, AffiliateID: affiliate,
			CommissionAmount: d(commission), Status: status, CreatedAt: at,
		})
	}
	thisWeek := fixedNow.Add(-24 * time.Hour)
	lastMonth := fixedNow.AddDate(0, -1, 0)
	seed("t1", "alice", 100000, 10000, thisWeek, domain.ConversionActive)
	seed("t2", "bob", 500000, 8000, thisWeek, domain.ConversionActive)
	seed("t3", "bob", 100000, 50000, lastMonth, domain.ConversionActive)
	seed("t4", "carol", 900000, 90000, thisWeek, domain.ConversionRefunded)

	board, err := h.board.Aggregate(ctx, LeaderboardQuery{Period: PeriodWeek, UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, board.Entries, 2, "refunded conversions do not count")
	assert.Equal(t, "alice", board.Entries[0].AffiliateID)
	require.NotNil(t, board.Me)
	assert.Equal(t, 2, board.Me.Rank)

	board, err = h.board.Aggregate(ctx, LeaderboardQuery{Period: PeriodWeek, Metric: MetricSales})
	require.NoError(t, err)
	assert.Equal(t, "bob", board.Entries[0].AffiliateID)

	board, err = h.board.Aggregate(ctx, LeaderboardQuery{Period: PeriodAllTime, Limit: 1, UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "bob", board.Entries[0].AffiliateID)
	assert.True(t, d(58000).Equal(board.Entries[0].Total))
	assert.Equal(t, 2, board.Me.Rank, "users outside the limit are still ranked")

	_, err = h.board.Aggregate(ctx, LeaderboardQuery{Metric: "clicks"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWalletSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testPolicy())
	h.addTransaction("tx-1", 299000, "aff")
	_, err := h.recorder.RecordConversion(ctx, "tx-1")
	require.NoError(t, err)

	s, err := h.wallets.Summary(ctx, "aff", 0)
	require.NoError(t, err)
	assert.True(t, d(29900).Equal(s.Wallet.Balance))
	assert.Len(t, s.Transactions, 1)
	assert.Empty(t, s.Payouts)

	_, err = h.wallets.Summary(ctx, "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
