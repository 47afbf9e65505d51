// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

// Defaults applied when Config fields are zero.
const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxBodyBytes = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. robots.txt is not consulted.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch downloads url and extracts its title, visible text and links. Non-2xx
// responses and transport failures are returned as errors. Non-HTML bodies
// yield a Document without title, text or links.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Document, error) {
	state := &fetchState{doc: crawler.Document{URL: url}}
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, time.Now(), state)

	if err := f.runCollector(ctx, collector, url, state); err != nil {
		return crawler.Document{}, err
	}
	result := state.doc
	if !isHTML(result.ContentType) {
		return result, nil
	}
	base := state.base
	if base == nil {
		parsed, err := neturl.Parse(url)
		if err != nil {
			return crawler.Document{}, fmt.Errorf("parse url %q: %w", url, err)
		}
		base = parsed
	}
	page, err := parsePage(base, result.Body)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("parse %s: %w", url, err)
	}
	result.Title = page.Title
	result.Text = page.Text
	result.Links = page.Links
	return result, nil
}

// fetchState is filled by the collector callbacks of one Fetch call.
type fetchState struct {
	doc  crawler.Document
	base *neturl.URL
	err  error
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, state *fetchState) {
	hooks.OnResponse(func(r *colly.Response) {
		state.doc.StatusCode = r.StatusCode
		if r.Headers != nil {
			state.doc.ContentType = r.Headers.Get("Content-Type")
		}
		if r.Request != nil && r.Request.URL != nil {
			state.base = r.Request.URL
		}
		state.doc.Body = append([]byte(nil), r.Body...)
		state.doc.FetchedAt = start
		state.doc.Duration = time.Since(start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.doc.StatusCode = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Fetcher = (*Fetcher)(nil)
