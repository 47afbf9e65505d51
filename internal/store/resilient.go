package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/metrics"
)

// Resilient decorates a Store so that transient failures never surface: the
// call waits, reconnects and runs again until it succeeds, fails for another
// reason or the context ends.
type Resilient struct {
	inner  Store
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// ResilientOption customizes a Resilient store.
type ResilientOption func(*Resilient)

// WithRetryPolicy overrides the default fixed retry policy.
func WithRetryPolicy(policy RetryPolicy) ResilientOption {
	return func(r *Resilient) {
		if policy != nil {
			r.policy = policy
		}
	}
}

// WithSleeper replaces the context-aware sleep, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ResilientOption {
	return func(r *Resilient) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewResilient wraps inner.
func NewResilient(inner Store, logger *zap.Logger, opts ...ResilientOption) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resilient{
		inner:  inner,
		policy: NewFixedRetryPolicy(DefaultRetryInterval),
		logger: logger.Named("store"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retry[T any](ctx context.Context, r *Resilient, op string, fn func(context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		out, err := fn(ctx)
		if err == nil || !r.policy.ShouldRetry(err, attempt) {
			return out, err
		}
		metrics.ObserveStoreRetry(op)
		r.logger.Warn("store operation failed, reconnecting",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := r.reconnect(ctx, attempt); err != nil {
			var zero T
			return zero, err
		}
	}
}

// reconnect pauses and pings until the store answers again.
func (r *Resilient) reconnect(ctx context.Context, attempt int) error {
	for {
		wait := r.policy.Backoff(attempt)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
		err := r.inner.Ping(ctx)
		if err == nil {
			r.logger.Info("store connection re-established")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Warn("store still unreachable", zap.Duration("retry_in", wait), zap.Error(err))
	}
}

// Ping checks the connection once without retrying.
func (r *Resilient) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

// Reset drops and recreates the schema.
func (r *Resilient) Reset(ctx context.Context) error {
	_, err := retry(ctx, r, "reset", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.Reset(ctx)
	})
	return err
}

// Close releases the wrapped store.
func (r *Resilient) Close() error {
	return r.inner.Close()
}

// UpsertFrontier implements FrontierStore.
func (r *Resilient) UpsertFrontier(ctx context.Context, address string) (int64, bool, error) {
	type result struct {
		score   int64
		visited bool
	}
	res, err := retry(ctx, r, "upsert_frontier", func(ctx context.Context) (result, error) {
		score, visited, err := r.inner.UpsertFrontier(ctx, address)
		return result{score: score, visited: visited}, err
	})
	return res.score, res.visited, err
}

// ClaimFrontier implements FrontierStore.
func (r *Resilient) ClaimFrontier(ctx context.Context) (FrontierEntry, error) {
	return retry(ctx, r, "claim_frontier", r.inner.ClaimFrontier)
}

// LookupFrontier implements FrontierStore.
func (r *Resilient) LookupFrontier(ctx context.Context, address string) (FrontierEntry, error) {
	return retry(ctx, r, "lookup_frontier", func(ctx context.Context) (FrontierEntry, error) {
		return r.inner.LookupFrontier(ctx, address)
	})
}

// IndexPage implements PageStore. The whole transaction is replayed on retry.
func (r *Resilient) IndexPage(ctx context.Context, page PageInput) (IndexedPage, error) {
	return retry(ctx, r, "index_page", func(ctx context.Context) (IndexedPage, error) {
		return r.inner.IndexPage(ctx, page)
	})
}

// PageCount implements PageStore and RelevanceStore.
func (r *Resilient) PageCount(ctx context.Context) (int64, error) {
	return retry(ctx, r, "page_count", r.inner.PageCount)
}

// Occurrences implements PageStore.
func (r *Resilient) Occurrences(ctx context.Context, pageID int64) ([]Occurrence, error) {
	return retry(ctx, r, "occurrences", func(ctx context.Context) ([]Occurrence, error) {
		return r.inner.Occurrences(ctx, pageID)
	})
}

// ListTerms implements RelevanceStore.
func (r *Resilient) ListTerms(ctx context.Context, afterID int64, limit int) ([]Term, error) {
	return retry(ctx, r, "list_terms", func(ctx context.Context) ([]Term, error) {
		return r.inner.ListTerms(ctx, afterID, limit)
	})
}

// TermStats implements RelevanceStore.
func (r *Resilient) TermStats(ctx context.Context, termID int64) (TermStats, error) {
	return retry(ctx, r, "term_stats", func(ctx context.Context) (TermStats, error) {
		return r.inner.TermStats(ctx, termID)
	})
}

// UpdateRelevance implements RelevanceStore.
func (r *Resilient) UpdateRelevance(ctx context.Context, termID int64, maxCounter int64, idf float64) (int64, error) {
	return retry(ctx, r, "update_relevance", func(ctx context.Context) (int64, error) {
		return r.inner.UpdateRelevance(ctx, termID, maxCounter, idf)
	})
}

var _ Store = (*Resilient)(nil)
