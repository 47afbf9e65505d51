// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/api"
	"github.com/JakeFAU/searchcrawler/internal/clock/system"
	"github.com/JakeFAU/searchcrawler/internal/config"
	"github.com/JakeFAU/searchcrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/searchcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/searchcrawler/internal/frontier"
	"github.com/JakeFAU/searchcrawler/internal/hash/sha256"
	"github.com/JakeFAU/searchcrawler/internal/id/uuid"
	"github.com/JakeFAU/searchcrawler/internal/indexer"
	memorypublisher "github.com/JakeFAU/searchcrawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/searchcrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/searchcrawler/internal/relevance"
	"github.com/JakeFAU/searchcrawler/internal/scheduler"
	"github.com/JakeFAU/searchcrawler/internal/storage/gcs"
	"github.com/JakeFAU/searchcrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/searchcrawler/internal/storage/memory"
	"github.com/JakeFAU/searchcrawler/internal/storage/postgres"
	"github.com/JakeFAU/searchcrawler/internal/storage/sqlite"
	"github.com/JakeFAU/searchcrawler/internal/store"
)

type closer interface {
	Close() error
}

// App holds the shared services of one process: the resilient index store,
// the optional archive and event backends, and the logger.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *store.Resilient
	archive   crawler.BlobStore
	publisher crawler.Publisher
	closers   []closer
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	fetcher crawler.Fetcher
}

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New opens the index store and the configured archive and event backends.
// Store open and ping failures are returned; nothing is retried here.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	inner, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if err := inner.Ping(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	a.store = store.NewResilient(inner, logger,
		store.WithRetryPolicy(store.NewFixedRetryPolicy(cfg.Store.RetryInterval)),
	)
	a.closers = append(a.closers, a.store)

	if err := a.openArchive(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.openPublisher(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("events", cfg.Events.Backend),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case "", config.BackendNone:
		return nil
	case config.BackendMemory:
		a.archive = memorystorage.NewBlobStore()
	case config.BackendLocal:
		bs, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		a.archive = bs
	case config.BackendGCS:
		bs, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("open gcs archive: %w", err)
		}
		a.archive = bs
		a.closers = append(a.closers, bs)
	default:
		return fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	switch a.cfg.Events.Backend {
	case "", config.BackendNone:
		return nil
	case config.BackendMemory:
		pub := memorypublisher.New()
		a.publisher = pub
		a.closers = append(a.closers, pub)
	case config.BackendPubSub:
		pub, err := pubsubpublisher.Dial(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub)
	default:
		return fmt.Errorf("unknown events backend %q", a.cfg.Events.Backend)
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the resilient index store.
func (a *App) Store() store.Store {
	return a.store
}

// Archive returns the archive backend, or nil when archiving is disabled.
func (a *App) Archive() crawler.BlobStore {
	return a.archive
}

// Publisher returns the event publisher, or nil when events are disabled.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// PrepareSchema drops and recreates the index tables when reset is true and
// otherwise applies any pending migrations.
func (a *App) PrepareSchema(ctx context.Context, reset bool) error {
	if reset {
		a.logger.Info("resetting index schema")
		if err := a.store.Reset(ctx); err != nil {
			return fmt.Errorf("reset schema: %w", err)
		}
		return nil
	}
	if a.cfg.Store.Driver == config.DriverPostgres {
		if err := postgres.Migrate(ctx, a.cfg.Store.DSN, a.logger); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// NewRelevanceJob builds a relevance job over the shared store.
func (a *App) NewRelevanceJob() *relevance.Job {
	return relevance.NewJob(a.store, relevance.Config{LogEvery: a.cfg.Relevance.LogEvery}, a.logger)
}

// NewScheduler wires a frontier, indexer, relevance job and fetcher into a
// crawl Scheduler.
func (a *App) NewScheduler(opts ...Option) (*scheduler.Scheduler, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    a.cfg.Crawler.UserAgent,
			Timeout:      a.cfg.Crawler.RequestTimeout,
			MaxBodyBytes: a.cfg.Crawler.MaxBodyBytes,
		})
	}
	ix, err := indexer.New(a.store, indexer.Config{
		MaxContentChars: a.cfg.Index.MaxContentChars,
		TermCacheSize:   a.cfg.Index.TermCacheSize,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build indexer: %w", err)
	}

	deps := scheduler.Deps{
		Frontier:  frontier.New(a.store, a.logger),
		Fetcher:   fetcher,
		Indexer:   ix,
		Relevance: a.NewRelevanceJob(),
		Pages:     a.store,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Archive:   a.archive,
		Publisher: a.publisher,
	}
	return scheduler.New(deps, scheduler.Config{
		SeedURLs:        a.cfg.Crawler.SeedURLs,
		BatchSize:       a.cfg.Relevance.BatchSize,
		MaxPages:        a.cfg.Crawler.MaxPages,
		RecomputeOnExit: a.cfg.Relevance.RecomputeOnExit,
		Topic:           a.cfg.Events.Topic,
		ArchivePrefix:   a.cfg.Archive.Prefix,
	}, a.logger)
}

// NewAdminServer builds the admin HTTP server. stats may be nil.
func (a *App) NewAdminServer(stats api.StatsSource) *api.Server {
	return api.NewServer(stats, a.store, a.store, a.logger)
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
