// Package scheduler drives a crawl run: it claims URLs from the frontier,
// fetches them, indexes what it can and periodically rebuilds relevance.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/frontier"
	"github.com/JakeFAU/searchcrawler/internal/indexer"
	"github.com/JakeFAU/searchcrawler/internal/metrics"
	"github.com/JakeFAU/searchcrawler/internal/relevance"
	"github.com/JakeFAU/searchcrawler/internal/telemetry"
)

// State is the lifecycle position of a Scheduler.
type State string

// Scheduler states.
const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateTerminated State = "terminated"
)

// DefaultBatchSize is the number of indexed pages between relevance passes.
const DefaultBatchSize = 1000

const defaultContentType = "text/html; charset=utf-8"

// Frontier is the part of frontier.Frontier the scheduler needs.
type Frontier interface {
	Add(ctx context.Context, raw string) (frontier.Outcome, error)
	AddAll(ctx context.Context, links []string) (int, error)
	Next(ctx context.Context) (frontier.Entry, bool, error)
}

// Indexer stores one page.
type Indexer interface {
	IndexPage(ctx context.Context, url, title, text string) (indexer.Result, error)
}

// Recomputer rebuilds every relevance score.
type Recomputer interface {
	RecomputeAll(ctx context.Context) (relevance.Summary, error)
}

// PageCounter reports how many pages are already indexed.
type PageCounter interface {
	PageCount(ctx context.Context) (int64, error)
}

// Config controls Scheduler behavior.
type Config struct {
	SeedURLs []string
	// BatchSize is the page count cadence of relevance passes.
	BatchSize int
	// MaxPages stops the run after this many newly indexed pages; 0 means no limit.
	MaxPages int
	// RecomputeOnExit runs a final relevance pass when the run terminates.
	RecomputeOnExit bool
	// Topic receives page.indexed and relevance.recomputed events.
	Topic         string
	ArchivePrefix string
	ContentType   string
}

// Deps bundles the collaborators of a Scheduler. Archive, Publisher, Hasher,
// Clock and IDs are optional.
type Deps struct {
	Frontier  Frontier
	Fetcher   crawler.Fetcher
	Indexer   Indexer
	Relevance Recomputer
	Pages     PageCounter
	Archive   crawler.BlobStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Stats is a point-in-time view of a run.
type Stats struct {
	RunID         string     `json:"run_id"`
	State         State      `json:"state"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Claimed       int        `json:"claimed"`
	FetchFailed   int        `json:"fetch_failed"`
	Indexed       int        `json:"indexed"`
	Skipped       int        `json:"skipped"`
	LinksAdmitted int        `json:"links_admitted"`
	Recomputes    int        `json:"recomputes"`
	// TotalPages is the running count of pages in the store.
	TotalPages int64  `json:"total_pages"`
	LastURL    string `json:"last_url,omitempty"`
}

// Scheduler runs one crawl. It is single threaded; Stats may be called
// concurrently from other goroutines.
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New constructs a Scheduler.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("scheduler: frontier is required")
	case deps.Fetcher == nil:
		return nil, errors.New("scheduler: fetcher is required")
	case deps.Indexer == nil:
		return nil, errors.New("scheduler: indexer is required")
	case deps.Relevance == nil:
		return nil, errors.New("scheduler: relevance job is required")
	case deps.Pages == nil:
		return nil, errors.New("scheduler: page counter is required")
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		stats:  Stats{State: StateIdle},
	}, nil
}

// Stats returns a snapshot of the run.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	if s.stats.FinishedAt != nil {
		finished := *s.stats.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

func (s *Scheduler) update(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

// Run seeds the frontier and crawls until it is exhausted, the page limit is
// reached or ctx is canceled. Cancellation leaves the scheduler Draining and
// returns ctx.Err(); every other exit leaves it Terminated.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	if err := s.start(ctx); err != nil {
		return s.Stats(), err
	}
	runID := s.Stats().RunID
	log := s.logger.With(zap.String("run_id", runID))

	err := s.loop(ctx, log)
	switch {
	case err == nil:
		s.finish(StateTerminated)
		log.Info("crawl finished", s.statFields()...)
		return s.Stats(), nil
	case ctx.Err() != nil:
		s.finish(StateDraining)
		log.Info("crawl interrupted", s.statFields()...)
		return s.Stats(), ctx.Err()
	default:
		s.finish(StateTerminated)
		log.Error("crawl aborted", append(s.statFields(), zap.Error(err))...)
		return s.Stats(), err
	}
}

func (s *Scheduler) start(ctx context.Context) error {
	s.mu.Lock()
	if s.stats.State != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: run already started (state %s)", s.stats.State)
	}
	s.stats.State = StateRunning
	s.stats.StartedAt = s.deps.Clock.Now()
	s.mu.Unlock()

	runID, err := s.newRunID()
	if err != nil {
		s.finish(StateTerminated)
		return err
	}
	total, err := s.deps.Pages.PageCount(ctx)
	if err != nil {
		s.finish(StateTerminated)
		return fmt.Errorf("scheduler: count pages: %w", err)
	}
	s.update(func(st *Stats) {
		st.RunID = runID
		st.TotalPages = total
	})
	metrics.SetIndexedPages(total)

	for _, seed := range s.cfg.SeedURLs {
		outcome, err := s.deps.Frontier.Add(ctx, seed)
		if err != nil {
			s.finish(StateTerminated)
			return fmt.Errorf("scheduler: seed %s: %w", seed, err)
		}
		s.logger.Info("seeded frontier", zap.String("run_id", runID), zap.String("url", seed), zap.String("outcome", string(outcome)))
	}
	return nil
}

func (s *Scheduler) newRunID() (string, error) {
	if s.deps.IDs == nil {
		return s.deps.Clock.Now().Format("20060102T150405Z"), nil
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("scheduler: run id: %w", err)
	}
	return id, nil
}

func (s *Scheduler) finish(state State) {
	now := s.deps.Clock.Now()
	s.update(func(st *Stats) {
		st.State = state
		st.FinishedAt = &now
	})
}

func (s *Scheduler) loop(ctx context.Context, log *zap.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok, err := s.deps.Frontier.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			log.Info("frontier exhausted")
			return s.recomputeOnExit(ctx, log)
		}
		s.update(func(st *Stats) {
			st.Claimed++
			st.LastURL = entry.URL
		})

		if err := s.visit(ctx, log, entry); err != nil {
			return err
		}

		if s.cfg.MaxPages > 0 && s.Stats().Indexed >= s.cfg.MaxPages {
			log.Info("page limit reached", zap.Int("max_pages", s.cfg.MaxPages))
			return s.recomputeOnExit(ctx, log)
		}
	}
}

// visit handles one claimed URL. Only cancellation is returned as an error;
// fetch and indexing failures are logged and the URL is dropped.
func (s *Scheduler) visit(ctx context.Context, log *zap.Logger, entry frontier.Entry) error {
	ctx, span := telemetry.Tracer().Start(ctx, "scheduler.visit", trace.WithAttributes(
		attribute.String("url.full", entry.URL),
		attribute.Int64("crawler.score", entry.Score),
	))
	defer span.End()

	log = log.With(zap.String("url", entry.URL))
	doc, fetchErr := s.deps.Fetcher.Fetch(ctx, entry.URL)
	if err := ctx.Err(); err != nil {
		return err
	}

	admitted, err := s.deps.Frontier.AddAll(ctx, doc.Links)
	s.update(func(st *Stats) { st.LinksAdmitted += admitted })
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("offering links failed", zap.Error(err))
	}

	if fetchErr != nil {
		metrics.ObserveCrawl(entry.URL, "failed", 0)
		span.RecordError(fetchErr)
		span.SetStatus(codes.Error, "fetch failed")
		s.update(func(st *Stats) { st.FetchFailed++ })
		log.Warn("fetch failed", zap.Error(fetchErr))
		return nil
	}
	metrics.ObserveCrawl(entry.URL, "fetched", len(doc.Body))

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		s.update(func(st *Stats) { st.Skipped++ })
		log.Debug("page skipped", zap.Error(crawler.ErrNoTitle))
		return nil
	}

	res, err := s.deps.Indexer.IndexPage(ctx, entry.URL, title, doc.Text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "index failed")
		s.update(func(st *Stats) { st.Skipped++ })
		log.Error("index page failed", zap.Error(err))
		return nil
	}
	if res.Status == indexer.StatusSkipped {
		s.update(func(st *Stats) { st.Skipped++ })
		return s.resyncPageCount(ctx, log)
	}

	span.SetAttributes(attribute.Int64("crawler.page_id", res.PageID))
	var total int64
	s.update(func(st *Stats) {
		st.Indexed++
		st.TotalPages++
		total = st.TotalPages
	})
	metrics.SetIndexedPages(total)
	s.afterIndex(ctx, log, entry.URL, title, doc, res)

	if total%int64(s.cfg.BatchSize) == 0 {
		if err := s.recompute(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

// afterIndex archives the raw page and publishes page.indexed. Failures here
// never stop the crawl.
func (s *Scheduler) afterIndex(
	ctx context.Context,
	log *zap.Logger,
	url string,
	title string,
	doc crawler.Document,
	res indexer.Result,
) {
	var hash string
	if s.deps.Hasher != nil {
		h, err := s.deps.Hasher.Hash(doc.Body)
		if err != nil {
			log.Warn("hash body failed", zap.Error(err))
		}
		hash = h
	}

	var uri string
	if s.deps.Archive != nil {
		path := s.buildBlobPath(s.Stats().RunID, res.PageID)
		u, err := s.deps.Archive.PutObject(ctx, path, s.cfg.ContentType, doc.Body)
		if err != nil {
			log.Warn("archive page failed", zap.Int64("page_id", res.PageID), zap.Error(err))
		}
		uri = u
	}

	s.publish(ctx, log, crawler.PageIndexedEvent{
		Type:        crawler.EventPageIndexed,
		RunID:       s.Stats().RunID,
		PageID:      res.PageID,
		URL:         url,
		Title:       title,
		Terms:       res.Terms,
		Tokens:      res.Tokens,
		ContentHash: hash,
		BlobURI:     uri,
		IndexedAt:   s.deps.Clock.Now(),
	})
}

// resyncPageCount reloads the page counter after an unexpected duplicate. A
// claimed URL is new to the page table unless a replayed store write already
// committed it, so the counter may lag the store. Crossing a batch boundary
// while catching up triggers the recompute that was missed.
func (s *Scheduler) resyncPageCount(ctx context.Context, log *zap.Logger) error {
	count, err := s.deps.Pages.PageCount(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("page count resync failed", zap.Error(err))
		return nil
	}
	var prev int64
	s.update(func(st *Stats) {
		prev = st.TotalPages
		if count > prev {
			st.TotalPages = count
		}
	})
	if count <= prev {
		return nil
	}
	log.Info("page counter resynced", zap.Int64("from", prev), zap.Int64("to", count))
	metrics.SetIndexedPages(count)
	batch := int64(s.cfg.BatchSize)
	if count/batch > prev/batch {
		return s.recompute(ctx, log)
	}
	return nil
}

func (s *Scheduler) buildBlobPath(runID string, pageID int64) string {
	prefix := strings.Trim(s.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%d.html", runID, pageID)
	}
	return fmt.Sprintf("%s/%s/%d.html", prefix, runID, pageID)
}

func (s *Scheduler) recomputeOnExit(ctx context.Context, log *zap.Logger) error {
	if !s.cfg.RecomputeOnExit {
		return nil
	}
	return s.recompute(ctx, log)
}

// recompute runs one relevance pass. A failed pass is logged and the crawl
// continues; only cancellation is returned.
func (s *Scheduler) recompute(ctx context.Context, log *zap.Logger) error {
	sum, err := s.deps.Relevance.RecomputeAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("relevance pass failed", zap.Error(err))
		return nil
	}
	s.update(func(st *Stats) { st.Recomputes++ })
	s.publish(ctx, log, crawler.RelevanceRecomputedEvent{
		Type:       crawler.EventRelevanceRecomputed,
		RunID:      s.Stats().RunID,
		TotalPages: sum.TotalPages,
		Terms:      sum.Terms,
		Rows:       sum.Rows,
		DurationMs: sum.Duration.Milliseconds(),
		FinishedAt: s.deps.Clock.Now(),
	})
	return nil
}

func (s *Scheduler) publish(ctx context.Context, log *zap.Logger, payload any) {
	if s.cfg.Topic == "" || s.deps.Publisher == nil {
		return
	}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		log.Warn("publish event failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
	}
}

func (s *Scheduler) statFields() []zap.Field {
	st := s.Stats()
	return []zap.Field{
		zap.Int("claimed", st.Claimed),
		zap.Int("indexed", st.Indexed),
		zap.Int("skipped", st.Skipped),
		zap.Int("fetch_failed", st.FetchFailed),
		zap.Int("recomputes", st.Recomputes),
		zap.Int64("total_pages", st.TotalPages),
	}
}
