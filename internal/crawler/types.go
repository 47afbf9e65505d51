package crawler

import (
	"errors"
	"time"
)

// ErrNoTitle marks a fetched page that has no <title> and is not indexed.
var ErrNoTitle = errors.New("page has no title")

// Document is the parsed result of fetching one URL.
type Document struct {
	// URL is the address that was requested.
	URL         string
	StatusCode  int
	ContentType string
	// Title is the trimmed text of the <title> element; empty when absent.
	Title string
	// Text is the visible text with whitespace runs collapsed to one space.
	Text string
	// Links are the absolute targets of every <a href> in document order.
	Links []string
	// Body is the raw response body.
	Body      []byte
	FetchedAt time.Time
	Duration  time.Duration
}

// Event types carried in the "type" field of published payloads.
const (
	EventPageIndexed         = "page.indexed"
	EventRelevanceRecomputed = "relevance.recomputed"
)

// PageIndexedEvent is published after a page is committed to the index.
type PageIndexedEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	PageID      int64     `json:"page_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Terms       int       `json:"terms"`
	Tokens      int       `json:"tokens"`
	ContentHash string    `json:"content_hash,omitempty"`
	BlobURI     string    `json:"blob_uri,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// RelevanceRecomputedEvent is published after a relevance pass completes.
type RelevanceRecomputedEvent struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	TotalPages int64     `json:"total_pages"`
	Terms      int       `json:"terms"`
	Rows       int64     `json:"rows"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// EventType implements the attribute hook used by publishers.
func (PageIndexedEvent) EventType() string { return EventPageIndexed }

// EventType implements the attribute hook used by publishers.
func (RelevanceRecomputedEvent) EventType() string { return EventRelevanceRecomputed }
