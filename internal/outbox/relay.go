package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/store"
	"github.com/rs/zerolog"
)

var dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_outbox_dispatched_total",
	Help: "Outbox events handed to the publisher, labeled by result",
}, []string{"result"})

// Queue is the outbox slice of the store, used inside one transaction.
type Queue interface {
	ClaimOutboxEvents(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error)
	MarkOutboxDispatched(ctx context.Context, id string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id string, cause string) error
}

type Store interface {
	InTx(ctx context.Context, fn func(q Queue) error) error
}

type pgStore struct {
	s *store.Store
}

// FromStore adapts the Postgres store to the relay.
func FromStore(s *store.Store) Store {
	return pgStore{s: s}
}

func (p pgStore) InTx(ctx context.Context, fn func(q Queue) error) error {
	return p.s.InTx(ctx, func(q *store.Queries) error { return fn(q) })
}

type Options struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	PublishTimeout time.Duration
}

// Relay polls the outbox and publishes what it finds. Publishing failures are
// recorded on the event and retried on a later poll; they never reach the
// ledger.
type Relay struct {
	store Store
	pub   Publisher
	lease Lease
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
}

// NewRelay builds a relay. A nil lease means this process always relays.
func NewRelay(s Store, pub Publisher, lease Lease, opts Options, log zerolog.Logger) *Relay {
	if lease == nil {
		lease = alwaysLeader{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Relay{
		store: s,
		pub:   pub,
		lease: lease,
		opts:  opts,
		log:   log.With().Str("component", "outbox_relay").Logger(),
		now:   time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().Dur("poll_interval", r.opts.PollInterval).Int("batch_size", r.opts.BatchSize).Msg("outbox relay started")
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.lease.Release(releaseCtx); err != nil {
			r.log.Warn().Err(err).Msg("failed to release relay lease")
		}
		r.log.Info().Msg("outbox relay stopped")
	}()

	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("outbox poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick relays one batch and returns how many events were published.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	leader, err := r.lease.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !leader {
		return 0, nil
	}

	sent := 0
	err = r.store.InTx(ctx, func(q Queue) error {
		sent = 0
		events, err := q.ClaimOutboxEvents(ctx, r.opts.BatchSize, r.opts.MaxAttempts)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := r.publish(ctx, e); err != nil {
				dispatched.WithLabelValues("failed").Inc()
				r.log.Warn().Err(err).Str("event_id", e.ID).Str("kind", e.Kind).Int("attempt", e.Attempts+1).Msg("notification publish failed")
				if err := q.MarkOutboxFailed(ctx, e.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := q.MarkOutboxDispatched(ctx, e.ID, r.now()); err != nil {
				return err
			}
			dispatched.WithLabelValues("ok").Inc()
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		r.log.Debug().Int("count", sent).Msg("notifications published")
	}
	return sent, nil
}

func (r *Relay) publish(ctx context.Context, e domain.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.PublishTimeout)
	defer cancel()
	return r.pub.Publish(ctx, e)
}
