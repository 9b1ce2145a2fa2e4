package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/store"
)

type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodAllTime Period = "all"
)

type Metric string

const (
	MetricCommission Metric = "commission"
	MetricSales      Metric = "sales"
)

// Window returns the calendar window containing now in loc: weeks start on
// Monday 00:00, months on the 1st. AllTime is unbounded.
func Window(p Period, now time.Time, loc *time.Location) (from, to *time.Time, err error) {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	var start, end time.Time
	switch p {
	case PeriodWeek:
		offset := (int(midnight.Weekday()) + 6) % 7
		start = midnight.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case PeriodMonth:
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case PeriodAllTime:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown period %q", domain.ErrInvalidInput, p)
	}
	return &start, &end, nil
}

type LeaderboardQuery struct {
	Period Period
	Metric Metric
	Limit  int
	// UserID, when set, is looked up in the full ranking even if it falls
	// outside Limit.
	UserID string
}

type Board struct {
	Period  Period                    `json:"period"`
	Metric  Metric                    `json:"metric"`
	From    *time.Time                `json:"from,omitempty"`
	To      *time.Time                `json:"to,omitempty"`
	Entries []domain.LeaderboardEntry `json:"entries"`
	Me      *domain.LeaderboardEntry  `json:"me,omitempty"`
}

type Leaderboard struct {
	repo         Repository
	loc          *time.Location
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

func NewLeaderboard(repo Repository, loc *time.Location, defaultLimit, maxLimit int) *Leaderboard {
	if loc == nil {
		loc = time.UTC
	}
	return &Leaderboard{repo: repo, loc: loc, defaultLimit: defaultLimit, maxLimit: maxLimit, now: time.Now}
}

func (l *Leaderboard) Aggregate(ctx context.Context, q LeaderboardQuery) (Board, error) {
	if q.Period == "" {
		q.Period = PeriodAllTime
	}
	if q.Metric == "" {
		q.Metric = MetricCommission
	}
	if q.Metric != MetricCommission && q.Metric != MetricSales {
		return Board{}, fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidInput, q.Metric)
	}
	if q.Limit <= 0 {
		q.Limit = l.defaultLimit
	}
	if l.maxLimit > 0 && q.Limit > l.maxLimit {
		q.Limit = l.maxLimit
	}
	from, to, err := Window(q.Period, l.now(), l.loc)
	if err != nil {
		return Board{}, err
	}

	// The whole ranking is read so that a user outside the top can still be
	// placed.
	all, err := l.repo.Leaderboard(ctx, store.LeaderboardQuery{From: from, To: to, BySales: q.Metric == MetricSales})
	if err != nil {
		return Board{}, err
	}
	ranked := Rank(all)

	board := Board{Period: q.Period, Metric: q.Metric, From: from, To: to, Entries: ranked}
	if len(ranked) > q.Limit {
		board.Entries = ranked[:q.Limit]
	}
	if q.UserID != "" {
		if rank := RankOf(ranked, q.UserID); rank > 0 {
			me := ranked[rank-1]
			board.Me = &me
		}
	}
	return board, nil
}

// Rank orders entries by total descending, then by who reached it first, then
// by affiliate id, and numbers them from 1.
func Rank(entries []domain.LeaderboardEntry) []domain.LeaderboardEntry {
	out := append([]domain.LeaderboardEntry{}, entries...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		if !a.AchievedAt.Equal(b.AchievedAt) {
			return a.AchievedAt.Before(b.AchievedAt)
		}
		return a.AffiliateID < b.AffiliateID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// RankOf returns the 1-based position of userID in ranked entries, or 0.
func RankOf(entries []domain.LeaderboardEntry, userID string) int {
	for i, e := range entries {
		if e.AffiliateID == userID {
			return i + 1
		}
	}
	return 0
}
