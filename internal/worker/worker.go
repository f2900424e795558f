// Package worker runs background maintenance, currently the idle banner
// sweep. On Postgres the sweep is a River periodic job; on SQLite an
// in-process ticker drives the same Sweeper.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Sweeper tears down idle state and reports how much was removed.
// *banner.Registry satisfies it.
type Sweeper interface {
	Sweep() int
}

// BannerSweepArgs is the periodic job that removes idle banners.
type BannerSweepArgs struct{}

// Kind returns the unique job type identifier for banner sweep jobs.
func (BannerSweepArgs) Kind() string { return "banner_sweep" }

type bannerSweepWorker struct {
	river.WorkerDefaults[BannerSweepArgs]
	sweeper Sweeper
	log     *slog.Logger
}

func (w *bannerSweepWorker) Work(_ context.Context, _ *river.Job[BannerSweepArgs]) error {
	n := w.sweeper.Sweep()
	w.log.Debug("banner sweep job executed", "removed", n)
	return nil
}

// Queue is the interface exposed by both the River client and tickerQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures New.
type Options struct {
	Driver        string
	Concurrency   int
	SweepInterval time.Duration
	Sweeper       Sweeper
	Logger        *slog.Logger
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// tickerQueue is used when River is unavailable (DB_DRIVER=sqlite). It runs
// the sweep on a plain ticker in this process.
type tickerQueue struct {
	sweeper  Sweeper
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (q *tickerQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return errors.New("worker queue already started")
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.done = make(chan struct{})
	q.log.Info("worker queue running in-process (sqlite driver; River requires postgres)",
		"sweep_interval", q.interval)

	go func() {
		defer close(q.done)
		t := time.NewTicker(q.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := q.sweeper.Sweep(); n > 0 {
					q.log.Debug("banner sweep executed", "removed", n)
				}
			}
		}
	}()
	return nil
}

func (q *tickerQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a River client backed by pool with the banner
//     sweep registered as a periodic job.
//   - anything else: returns an in-process ticker queue.
//
// pool may be nil when driver != "postgres".
func New(_ context.Context, pool *pgxpool.Pool, opts Options) (Queue, error) {
	if opts.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", opts.SweepInterval)
	}
	if opts.Driver != "postgres" {
		return &tickerQueue{sweeper: opts.Sweeper, interval: opts.SweepInterval, log: opts.Logger}, nil
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &bannerSweepWorker{sweeper: opts.Sweeper, log: opts.Logger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: opts.Concurrency},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(opts.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) { return BannerSweepArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: opts.Logger}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
