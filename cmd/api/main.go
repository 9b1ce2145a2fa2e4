package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/api"
	"github.com/punchamoorthee/commissionledger/internal/config"
	"github.com/punchamoorthee/commissionledger/internal/ledger"
	"github.com/punchamoorthee/commissionledger/internal/logger"
	"github.com/punchamoorthee/commissionledger/internal/outbox"
	"github.com/punchamoorthee/commissionledger/internal/service"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("commission-ledger", logger.Config{})
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New("commission-ledger", cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	dbPool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	db := store.New(dbPool, cfg.Database.MaxTxRetries, log)
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("schema applied")
	}

	// Initialize Layers
	uow := service.NewUnitOfWork(db)
	l := ledger.New(log)
	handler := api.NewHandler(
		service.NewConversionRecorder(uow, l, policy, log),
		service.NewPayoutWorkflow(uow, l, policy, log),
		service.NewRevenueReview(uow, l, log),
		service.NewLeaderboard(uow, loc, cfg.Leaderboard.DefaultLimit, cfg.Leaderboard.MaxLimit),
		service.NewWallets(uow, l),
		log,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Outbox.Enabled {
		relay, closeRelay, err := newRelay(ctx, cfg, db, log)
		if err != nil {
			return err
		}
		defer closeRelay()
		g.Go(func() error { return relay.Run(gctx) })
	}

	return g.Wait()
}

func newRelay(ctx context.Context, cfg *config.Config, db *store.Store, log zerolog.Logger) (*outbox.Relay, func(), error) {
	pub, err := outbox.NewPublisher(cfg.Outbox, log)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{pub.Close}

	var lease outbox.Lease
	if cfg.Redis.URL != "" {
		rdb, err := outbox.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			pub.Close()
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pub.Close()
			rdb.Close()
			return nil, nil, err
		}
		lease = outbox.NewRedisLease(rdb, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL)
		closers = append(closers, rdb.Close)
	}

	relay := outbox.NewRelay(outbox.FromStore(db), pub, lease, outbox.Options{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, log)

	return relay, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("failed to close outbox dependency")
			}
		}
	}, nil
}
