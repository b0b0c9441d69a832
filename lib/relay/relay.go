package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"subrelay/config"
	"subrelay/lib"
	"subrelay/lib/models"
	"subrelay/reddit"
	"subrelay/webhook"
)

// FeedSource lists recent items of a feed and resolves author avatars.
type FeedSource interface {
	FetchRecent(ctx context.Context, subreddit string, limit int) ([]models.Post, error)
	FetchUserAvatar(ctx context.Context, username string) string
}

// Sink delivers one item's composed payloads to a destination endpoint.
type Sink interface {
	Send(ctx context.Context, endpoint string, embeds []webhook.Embed, identity webhook.Identity, actionLink string) error
}

var (
	_ FeedSource = (*reddit.Client)(nil)
	_ Sink       = (*webhook.Dispatcher)(nil)
)

// Relay is the poll scheduler: a fixed-interval driver that fans out the
// fetch→filter→compose→dispatch→record pipeline across all subscriptions,
// each isolated from its siblings.
type Relay struct {
	log      *zap.Logger
	db       *gorm.DB
	registry *lib.Registry
	ledger   *lib.Ledger
	feed     FeedSource
	sink     Sink

	mu     sync.Mutex // held for the duration of a tick; ticks never overlap
	cancel context.CancelFunc

	pollInterval time.Duration
	tickTimeout  time.Duration
	fetchLimit   int
	concurrency  int
}

func NewRelay(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, db *gorm.DB, registry *lib.Registry, ledger *lib.Ledger, feed *reddit.Client, sink *webhook.Dispatcher) *Relay {
	r := newRelay(log, db, registry, ledger, feed, sink,
		time.Duration(cfg.Relay.PollIntervalSecs)*time.Second,
		time.Duration(cfg.Relay.TickTimeoutSecs)*time.Second,
		cfg.Relay.FetchLimit,
		cfg.Relay.Concurrency,
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop relay")
			r.Stop()
			return nil
		},
	})

	return r
}

func newRelay(log *zap.Logger, db *gorm.DB, registry *lib.Registry, ledger *lib.Ledger, feed FeedSource, sink Sink, pollInterval, tickTimeout time.Duration, fetchLimit, concurrency int) *Relay {
	return &Relay{
		log:          log,
		db:           db,
		registry:     registry,
		ledger:       ledger,
		feed:         feed,
		sink:         sink,
		pollInterval: pollInterval,
		tickTimeout:  tickTimeout,
		fetchLimit:   fetchLimit,
		concurrency:  concurrency,
	}
}

func (r *Relay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Wait here for the in-flight tick to drain
			r.mu.Lock()
			r.log.Sugar().Info("Relay stopped")
			r.mu.Unlock()
			return

		case t := <-ticker.C:
			r.tick(ctx, t.UTC())
		}
	}
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// tick runs the pipeline across a store snapshot of all subscriptions. A
// tick that fires while the previous one is still in flight is skipped, not
// run in parallel.
func (r *Relay) tick(ctx context.Context, startedAt time.Time) {
	if !r.mu.TryLock() {
		r.log.Sugar().Warn("Previous tick still in flight, skipping")
		return
	}
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	log := r.log.With(zap.String("tick_id", uuid.NewString()))

	metrics := &tickMetrics{}
	var subs models.Subscriptions
	tx := r.db.WithContext(ctx).FindInBatches(&subs, r.concurrency, func(tx *gorm.DB, batch int) error {
		r.relayBatch(ctx, log, subs, metrics)
		return nil
	})
	if err := tx.Error; err != nil {
		log.Sugar().Errorw("Failed to scan subscriptions", "err", err)
		return
	}

	if metrics.selected > 0 {
		log.Sugar().Infow("Processed subscriptions",
			"selected", metrics.selected,
			"relayed", metrics.relayed,
			"skipped", metrics.skipped,
			"errored", metrics.errored,
		)
	}

	elapsed := time.Now().UTC().Sub(startedAt)
	log.Sugar().Infow("Relay tick completed", "elapsed_msecs", int(elapsed.Milliseconds()))
}

// relayBatch runs one bounded batch of subscription pipelines concurrently.
// A failure in any pipeline never aborts its siblings.
func (r *Relay) relayBatch(ctx context.Context, log *zap.Logger, batch models.Subscriptions, metrics *tickMetrics) {
	var wg sync.WaitGroup

	for i := range batch {
		sub := batch[i]
		wg.Add(1)

		go func() {
			defer wg.Done()
			metrics.Add(r.relayOne(ctx, log, sub))
		}()
	}

	wg.Wait()
}
