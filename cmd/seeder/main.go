package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/commissionledger/internal/config"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/logger"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	configPath   string
	transactions int
	affiliates   int
	courses      int
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.IntVar(&transactions, "transactions", 1000, "number of SUCCESS transactions to generate")
	flag.IntVar(&affiliates, "affiliates", 50, "number of affiliates with referral links")
	flag.IntVar(&courses, "courses", 10, "number of courses with commission overrides")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog := logger.New("seeder", logger.Config{})
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New("seeder", cfg.Log)

	ctx := context.Background()
	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()

	if err := store.New(pool, cfg.Database.MaxTxRetries, log).Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	log.Info().Msg("--- Seeding Database ---")

	// 1. Check existing
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE id LIKE 'seed-%'").Scan(&count); err != nil {
		log.Fatal().Err(err).Msg("count failed")
	}
	if count >= transactions {
		log.Info().Int("count", count).Msg("database already seeded, skipping")
		return
	}

	// 2. Referral links and course overrides go in on the first run only.
	if count == 0 {
		seedCatalog(ctx, pool, log)
	}

	// 3. Bulk Insert using CopyFrom
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	missing := transactions - count
	rows := make([][]any, 0, missing)
	for i := 0; i < missing; i++ {
		var (
			itemType = domain.ItemMembership
			itemID   = "membership-pro"
			mentor   *string
			code     *string
		)
		if courses > 0 && rng.Intn(3) == 0 {
			itemType, itemID = domain.ItemCourse, courseID(rng.Intn(courses))
			m := fmt.Sprintf("mentor-%02d", rng.Intn(5))
			mentor = &m
		}
		if affiliates > 0 && rng.Intn(4) != 0 {
			c := referralCode(rng.Intn(affiliates))
			code = &c
		}
		created := time.Now().Add(-time.Duration(rng.Intn(60*24)) * time.Hour)
		rows = append(rows, []any{
			fmt.Sprintf("seed-%06d", count+i),
			fmt.Sprintf("user-%05d", rng.Intn(10000)),
			decimal.NewFromInt(int64(99000 + rng.Intn(20)*50000)),
			string(domain.TransactionSuccess),
			string(itemType),
			itemID,
			code,
			mentor,
			created,
			created,
		})
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{"transactions"},
		[]string{"id", "user_id", "amount", "status", "type", "item_id", "affiliate_code", "mentor_id", "created_at", "paid_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		log.Fatal().Err(err).Msg("bulk insert of transactions failed")
	}
	log.Info().Int64("rows", n).Msg("transactions seeded; POST /api/v1/transactions/{id}/conversion to record them")
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) {
	links := make([][]any, 0, affiliates)
	for i := 0; i < affiliates; i++ {
		links = append(links, []any{referralCode(i), fmt.Sprintf("a%d", i), fmt.Sprintf("affiliate-%04d", i), time.Now()})
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{"affiliate_links"}, []string{"code", "short_code", "user_id", "created_at"}, pgx.CopyFromRows(links))
	if err != nil {
		log.Fatal().Err(err).Msg("bulk insert of affiliate links failed")
	}
	log.Info().Int64("rows", n).Msg("affiliate links seeded")

	items := make([][]any, 0, courses)
	for i := 0; i < courses; i++ {
		items = append(items, []any{
			string(domain.ItemCourse), courseID(i), string(domain.CommissionPercentage),
			decimal.NewFromInt(int64(5 + i%4*5)), decimal.Zero, decimal.NewFromInt(50),
		})
	}
	n, err = pool.CopyFrom(ctx, pgx.Identifier{"item_commissions"},
		[]string{"item_type", "item_id", "commission_type", "affiliate_rate", "affiliate_bonus", "mentor_percent"},
		pgx.CopyFromRows(items))
	if err != nil {
		log.Fatal().Err(err).Msg("bulk insert of item commissions failed")
	}
	log.Info().Int64("rows", n).Msg("item commissions seeded")
}

func referralCode(i int) string { return fmt.Sprintf("AFF%04d", i) }

func courseID(i int) string { return fmt.Sprintf("course-%03d", i) }
