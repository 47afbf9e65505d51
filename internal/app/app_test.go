// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/app"
	"github.com/JakeFAU/searchcrawler/internal/config"
	memorypublisher "github.com/JakeFAU/searchcrawler/internal/publisher/memory"
	"github.com/JakeFAU/searchcrawler/internal/scheduler"
	memorystorage "github.com/JakeFAU/searchcrawler/internal/storage/memory"
)

func testConfig(seed string) config.Config {
	return config.Config{
		Store: config.StoreConfig{
			Driver:        config.DriverSQLite,
			DSN:           "file::memory:",
			MaxConns:      1,
			RetryInterval: 10 * time.Millisecond,
			ResetOnStart:  true,
		},
		Crawler: config.CrawlerConfig{
			SeedURLs:       []string{seed},
			UserAgent:      "searchcrawler-test",
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Relevance: config.RelevanceConfig{BatchSize: 1000, RecomputeOnExit: true, LogEvery: 10},
		Index:     config.IndexConfig{MaxContentChars: 1000, TermCacheSize: 100},
		Archive:   config.ArchiveConfig{Backend: config.BackendMemory, Prefix: "pages"},
		Events:    config.EventsConfig{Backend: config.BackendMemory, Topic: "crawl-events"},
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<p>cat cat dog</p>
<a href="/b">b</a><a href="/b">b again</a><a href="/a">a</a><a href="/missing">gone</a>
<a href="/doc.pdf">pdf</a>
</body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Ay</title></head><body>fish</body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Bee</title></head><body>cat bird<a href="/">home</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlEndToEnd(t *testing.T) {
	t.Parallel()
	site := newSite(t)
	ctx := context.Background()

	a, err := app.New(ctx, testConfig(site.URL+"/"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.PrepareSchema(ctx, true))

	sched, err := a.NewScheduler()
	require.NoError(t, err)
	stats, err := sched.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StateTerminated, stats.State)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 1, stats.FetchFailed)
	assert.Equal(t, 4, stats.Claimed)
	assert.Equal(t, 1, stats.Recomputes)

	count, err := a.Store().PageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// /b was linked twice from the root and is claimed before /a.
	b, err := a.Store().LookupFrontier(ctx, site.URL+"/b")
	require.NoError(t, err)
	assert.True(t, b.Visited)
	assert.Equal(t, int64(2), b.Score)

	occs, err := a.Store().Occurrences(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, occs)
	for _, o := range occs {
		assert.Greater(t, o.Relevance, 0.0, o.Term)
	}

	archive, ok := a.Archive().(*memorystorage.BlobStore)
	require.True(t, ok)
	assert.Equal(t, 3, archive.Len())

	pub, ok := a.Publisher().(*memorypublisher.Publisher)
	require.True(t, ok)
	assert.Len(t, pub.Messages(), 4)
}

func TestRecomputeWithoutReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig("https://example.com/")
	cfg.Archive.Backend = config.BackendNone
	cfg.Events.Backend = config.BackendNone

	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.PrepareSchema(ctx, false))
	assert.Nil(t, a.Archive())
	assert.Nil(t, a.Publisher())

	sum, err := a.NewRelevanceJob().RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Terms)
	assert.Zero(t, sum.TotalPages)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	cfg := testConfig("https://example.com/")
	cfg.Store.Driver = "mysql"

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown store driver")
}

func TestNewRejectsUnwritableArchive(t *testing.T) {
	t.Parallel()
	cfg := testConfig("https://example.com/")
	cfg.Archive = config.ArchiveConfig{Backend: config.BackendLocal, LocalDir: ""}

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "open local archive")
}

func TestAdminServerUsesStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig("https://example.com/")

	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := a.NewAdminServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
