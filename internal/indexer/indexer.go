// Package indexer turns fetched pages into page, term and occurrence rows.
package indexer

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/metrics"
	"github.com/JakeFAU/searchcrawler/internal/store"
	"github.com/JakeFAU/searchcrawler/internal/tokenizer"
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxTitleChars   = 255
	DefaultMaxContentChars = 65535
	DefaultTermCacheSize   = 100_000
)

// Config tunes the indexer.
type Config struct {
	// MaxTitleChars truncates stored titles. Zero uses DefaultMaxTitleChars.
	MaxTitleChars int
	// MaxContentChars truncates stored content. Zero uses
	// DefaultMaxContentChars; negative keeps the full text. Terms are always
	// counted over the full text.
	MaxContentChars int
	// TermCacheSize bounds the term id cache. Zero uses DefaultTermCacheSize.
	TermCacheSize int
}

// Status reports what IndexPage did.
type Status int

// Index outcomes.
const (
	StatusIndexed Status = iota + 1
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusIndexed:
		return "indexed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result describes one IndexPage call.
type Result struct {
	Status Status
	PageID int64
	// Terms is the number of distinct terms (occurrence rows) written.
	Terms int
	// Tokens is the total number of retained tokens.
	Tokens int
}

// Indexer writes one page at a time through a PageStore.
type Indexer struct {
	store  store.PageStore
	cfg    Config
	terms  *lru.Cache[string, int64]
	logger *zap.Logger
}

// New builds an Indexer.
func New(st store.PageStore, cfg Config, logger *zap.Logger) (*Indexer, error) {
	if st == nil {
		return nil, fmt.Errorf("indexer: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTitleChars <= 0 {
		cfg.MaxTitleChars = DefaultMaxTitleChars
	}
	if cfg.MaxContentChars == 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if cfg.TermCacheSize <= 0 {
		cfg.TermCacheSize = DefaultTermCacheSize
	}
	cache, err := lru.New[string, int64](cfg.TermCacheSize)
	if err != nil {
		return nil, fmt.Errorf("indexer: term cache: %w", err)
	}
	return &Indexer{store: st, cfg: cfg, terms: cache, logger: logger.Named("indexer")}, nil
}

// IndexPage stores the page, creates unseen terms and records one occurrence
// per distinct term with relevance 0. A URL that is already indexed is
// reported as StatusSkipped and nothing is written.
func (ix *Indexer) IndexPage(ctx context.Context, url, title, text string) (Result, error) {
	counts := tokenizer.Aggregate(text)
	tokens := 0
	known := make(map[string]int64, len(counts))
	for term, n := range counts {
		tokens += n
		if id, ok := ix.terms.Get(term); ok {
			known[term] = id
		}
	}

	out, err := ix.store.IndexPage(ctx, store.PageInput{
		URL:        url,
		Title:      truncate(title, ix.cfg.MaxTitleChars),
		Content:    truncate(text, ix.cfg.MaxContentChars),
		Terms:      counts,
		KnownTerms: known,
	})
	if errors.Is(err, store.ErrDuplicate) {
		ix.logger.Debug("page already indexed", zap.String("url", url))
		return Result{Status: StatusSkipped}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("index %s: %w", url, err)
	}

	for term, id := range out.TermIDs {
		ix.terms.Add(term, id)
	}
	metrics.ObserveIndexedTerms(len(counts))
	ix.logger.Debug("page indexed",
		zap.String("url", url),
		zap.Int64("page_id", out.PageID),
		zap.Int("terms", len(counts)),
		zap.Int("tokens", tokens),
	)
	return Result{Status: StatusIndexed, PageID: out.PageID, Terms: len(counts), Tokens: tokens}, nil
}

// truncate keeps at most limit runes of s; a negative limit keeps everything.
func truncate(s string, limit int) string {
	if limit < 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
