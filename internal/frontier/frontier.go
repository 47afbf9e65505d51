// Package frontier holds the set of URLs still to be crawled, ordered by how
// often they have been referenced.
package frontier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/metrics"
	"github.com/JakeFAU/searchcrawler/internal/store"
	"github.com/JakeFAU/searchcrawler/internal/urlfilter"
)

// Outcome reports what Add did with a URL.
type Outcome string

// Add outcomes.
const (
	OutcomeRejected Outcome = "rejected"
	OutcomeInserted Outcome = "inserted"
	OutcomeBoosted  Outcome = "boosted"
	OutcomeVisited  Outcome = "visited"
)

// Entry is a URL handed out by Next.
type Entry struct {
	URL   string
	Score int64
}

// Frontier admits filtered URLs and hands out the most referenced one first.
// All state lives in the store so a run can be resumed.
type Frontier struct {
	store  store.FrontierStore
	logger *zap.Logger
}

// New builds a Frontier over st.
func New(st store.FrontierStore, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{store: st, logger: logger.Named("frontier")}
}

// Add offers raw to the frontier. Rejected and already visited URLs are left
// alone; a pending URL gains one point; a new URL enters with score 1.
func (f *Frontier) Add(ctx context.Context, raw string) (Outcome, error) {
	verdict := urlfilter.Classify(raw)
	if !verdict.Accepted {
		metrics.ObserveFrontierOffer(string(OutcomeRejected))
		f.logger.Debug("url rejected", zap.String("url", raw), zap.String("reason", string(verdict.Reason)))
		return OutcomeRejected, nil
	}

	score, visited, err := f.store.UpsertFrontier(ctx, verdict.URL)
	if err != nil {
		return "", fmt.Errorf("frontier add %s: %w", verdict.URL, err)
	}
	outcome := OutcomeBoosted
	switch {
	case visited:
		outcome = OutcomeVisited
	case score == 1:
		outcome = OutcomeInserted
	}
	metrics.ObserveFrontierOffer(string(outcome))
	return outcome, nil
}

// AddAll offers every link and returns how many were inserted or boosted.
func (f *Frontier) AddAll(ctx context.Context, links []string) (int, error) {
	admitted := 0
	for _, link := range links {
		outcome, err := f.Add(ctx, link)
		if err != nil {
			return admitted, err
		}
		if outcome == OutcomeInserted || outcome == OutcomeBoosted {
			admitted++
		}
	}
	return admitted, nil
}

// Next claims the highest scored unvisited URL, earliest inserted first on
// ties, and marks it visited. ok is false when the frontier is exhausted.
func (f *Frontier) Next(ctx context.Context) (Entry, bool, error) {
	e, err := f.store.ClaimFrontier(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("frontier next: %w", err)
	}
	return Entry{URL: e.Address, Score: e.Score}, true, nil
}
