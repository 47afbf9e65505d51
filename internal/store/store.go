package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate signals that a uniquely keyed record already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrTransient marks failures caused by a lost or unreachable store.
	// Operations failing with it are safe to retry after reconnecting.
	ErrTransient = errors.New("store temporarily unavailable")
)

// Transient wraps err so that errors.Is(err, ErrTransient) reports true.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should trigger the reconnect loop.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// FrontierEntry is one row of the frontier table.
type FrontierEntry struct {
	ID      int64
	Address string
	Visited bool
	Score   int64
}

// PageInput carries everything needed to index one page atomically.
type PageInput struct {
	URL     string
	Title   string
	Content string
	// Terms maps each distinct term of the page to its count.
	Terms map[string]int
	// KnownTerms holds term ids already committed by earlier pages. Terms
	// listed here skip the insert-or-lookup round trip.
	KnownTerms map[string]int64
}

// IndexedPage is the outcome of a committed IndexPage call.
type IndexedPage struct {
	PageID int64
	// TermIDs maps every term of the page to its id.
	TermIDs map[string]int64
}

// Term is one row of the term table.
type Term struct {
	ID   int64
	Name string
}

// TermStats are the corpus aggregates a term's relevance depends on.
type TermStats struct {
	// MaxCounter is the largest occurrence counter of the term over all pages.
	MaxCounter int64
	// DocFreq is the number of pages containing the term.
	DocFreq int64
}

// Occurrence is one row of the occurrence table.
type Occurrence struct {
	PageID    int64
	TermID    int64
	Term      string
	Counter   int64
	Relevance float64
}

// FrontierStore persists the crawl frontier.
type FrontierStore interface {
	// UpsertFrontier inserts address with score 1 or increments the score of
	// an unvisited row. visited is true when the row exists and was already
	// claimed; nothing is changed in that case.
	UpsertFrontier(ctx context.Context, address string) (score int64, visited bool, err error)
	// ClaimFrontier marks the highest scored unvisited row as visited and
	// returns it. Ties go to the lowest id. ErrNotFound when none remain.
	ClaimFrontier(ctx context.Context) (FrontierEntry, error)
	// LookupFrontier returns the row for address or ErrNotFound.
	LookupFrontier(ctx context.Context, address string) (FrontierEntry, error)
}

// PageStore persists pages together with their terms and occurrences.
type PageStore interface {
	// IndexPage writes the page, any new terms and one occurrence per term in
	// a single transaction. ErrDuplicate when the URL is already indexed.
	IndexPage(ctx context.Context, page PageInput) (IndexedPage, error)
	PageCount(ctx context.Context) (int64, error)
	Occurrences(ctx context.Context, pageID int64) ([]Occurrence, error)
}

// RelevanceStore exposes the aggregates and bulk update used to rescore terms.
type RelevanceStore interface {
	PageCount(ctx context.Context) (int64, error)
	// ListTerms returns up to limit terms with id > afterID, ordered by id.
	ListTerms(ctx context.Context, afterID int64, limit int) ([]Term, error)
	TermStats(ctx context.Context, termID int64) (TermStats, error)
	// UpdateRelevance sets relevance = counter / maxCounter * idf on every
	// occurrence of the term and returns the number of rows touched.
	UpdateRelevance(ctx context.Context, termID int64, maxCounter int64, idf float64) (int64, error)
}

// Store is the full persistence surface a backend implements.
type Store interface {
	FrontierStore
	PageStore
	RelevanceStore
	// Ping checks the connection.
	Ping(ctx context.Context) error
	// Reset drops and recreates the schema.
	Reset(ctx context.Context) error
	Close() error
}
