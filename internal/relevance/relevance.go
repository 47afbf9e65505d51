// Package relevance recomputes the TF-IDF weight of every occurrence.
//
// The weight of term t on page p is
//
//	counter(p, t) / max_counter(t) * ln((1 + total_pages) / doc_freq(t))
//
// where the aggregates are read from the store when the job runs.
package relevance

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/metrics"
	"github.com/JakeFAU/searchcrawler/internal/store"
	"github.com/JakeFAU/searchcrawler/internal/telemetry"
)

// Defaults applied when Config fields are zero.
const (
	DefaultPageSize = 1000
	DefaultLogEvery = 1000
)

// IDF is the inverse document frequency ln((1 + totalPages) / docFreq).
// docFreq must be positive.
func IDF(totalPages, docFreq int64) float64 {
	return math.Log(float64(1+totalPages) / float64(docFreq))
}

// Score is the relevance of one occurrence. maxCounter and docFreq must be positive.
func Score(counter, maxCounter, totalPages, docFreq int64) float64 {
	return float64(counter) / float64(maxCounter) * IDF(totalPages, docFreq)
}

// Config tunes a Job.
type Config struct {
	// PageSize is how many terms are listed per store round trip.
	PageSize int
	// LogEvery emits a progress line after this many terms.
	LogEvery int
}

// Summary describes one completed pass.
type Summary struct {
	TotalPages int64
	Terms      int
	// Skipped counts terms with no occurrences.
	Skipped int
	// Rows is the number of occurrence rows rewritten.
	Rows     int64
	Duration time.Duration
}

// Job rescales every occurrence relevance from corpus aggregates.
type Job struct {
	store  store.RelevanceStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewJob builds a Job.
func NewJob(st store.RelevanceStore, cfg Config, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = DefaultLogEvery
	}
	return &Job{store: st, cfg: cfg, logger: logger.Named("relevance"), now: time.Now}
}

// RecomputeAll walks the terms in id order and overwrites the relevance of
// each of their occurrences. The page count is re-read for every term, so a
// crawl indexing into the same store during the pass is reflected term by
// term.
func (j *Job) RecomputeAll(ctx context.Context) (Summary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "relevance.recompute_all")
	defer span.End()

	sum, err := j.recomputeAll(ctx)
	span.SetAttributes(
		attribute.Int64("relevance.total_pages", sum.TotalPages),
		attribute.Int("relevance.terms", sum.Terms),
		attribute.Int64("relevance.rows", sum.Rows),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recompute failed")
	}
	return sum, err
}

func (j *Job) recomputeAll(ctx context.Context) (Summary, error) {
	start := j.now()
	total, err := j.store.PageCount(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("relevance: count pages: %w", err)
	}
	sum := Summary{TotalPages: total}
	j.logger.Info("recomputing relevance", zap.Int64("total_pages", total))

	// TotalPages ends as the last count read.

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		terms, err := j.store.ListTerms(ctx, after, j.cfg.PageSize)
		if err != nil {
			return sum, fmt.Errorf("relevance: list terms: %w", err)
		}
		if len(terms) == 0 {
			break
		}
		for _, term := range terms {
			rows, skipped, err := j.rescore(ctx, term, &sum.TotalPages)
			if err != nil {
				return sum, err
			}
			sum.Terms++
			sum.Rows += rows
			if skipped {
				sum.Skipped++
			}
			if sum.Terms%j.cfg.LogEvery == 0 {
				j.logger.Info("relevance progress", zap.Int("terms", sum.Terms), zap.Int64("rows", sum.Rows))
			}
		}
		after = terms[len(terms)-1].ID
	}

	sum.Duration = j.now().Sub(start)
	metrics.ObserveRelevanceRun(sum.Terms, sum.Duration)
	j.logger.Info("relevance recomputed",
		zap.Int("terms", sum.Terms),
		zap.Int("skipped", sum.Skipped),
		zap.Int64("rows", sum.Rows),
		zap.Int64("total_pages", sum.TotalPages),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (j *Job) rescore(ctx context.Context, term store.Term, total *int64) (int64, bool, error) {
	count, err := j.store.PageCount(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("relevance: count pages for %q: %w", term.Name, err)
	}
	*total = count
	stats, err := j.store.TermStats(ctx, term.ID)
	if err != nil {
		return 0, false, fmt.Errorf("relevance: stats for %q: %w", term.Name, err)
	}
	if stats.DocFreq == 0 || stats.MaxCounter == 0 {
		return 0, true, nil
	}
	rows, err := j.store.UpdateRelevance(ctx, term.ID, stats.MaxCounter, IDF(count, stats.DocFreq))
	if err != nil {
		return 0, false, fmt.Errorf("relevance: update %q: %w", term.Name, err)
	}
	return rows, false, nil
}
