package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlerPagesTotal
	Init()
	require.Same(t, first, crawlerPagesTotal)
	require.NotNil(t, relevanceDurationSeconds)
}

func TestObserveCrawlCountsBySiteAndStatus(t *testing.T) {
	Init()
	counter := crawlerPagesTotal.WithLabelValues("metrics-test.example", "indexed")
	before := testutil.ToFloat64(counter)
	ObserveCrawl("https://Metrics-Test.example/a", "indexed", 512)
	require.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
	require.InDelta(t, 512, testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("metrics-test.example")), 0.001)
}

func TestObserveRelevanceRun(t *testing.T) {
	Init()
	runs := testutil.ToFloat64(relevanceRunsTotal)
	terms := testutil.ToFloat64(relevanceTermsTotal)

	ObserveRelevanceRun(7, 250*time.Millisecond)

	require.InDelta(t, runs+1, testutil.ToFloat64(relevanceRunsTotal), 0.001)
	require.InDelta(t, terms+7, testutil.ToFloat64(relevanceTermsTotal), 0.001)
	require.Positive(t, testutil.CollectAndCount(relevanceDurationSeconds))
}

func TestObserveFrontierOfferAndRetries(t *testing.T) {
	Init()
	before := testutil.ToFloat64(frontierOffersTotal.WithLabelValues("boosted"))
	ObserveFrontierOffer("boosted")
	require.InDelta(t, before+1, testutil.ToFloat64(frontierOffersTotal.WithLabelValues("boosted")), 0.001)

	retries := testutil.ToFloat64(storeRetriesTotal.WithLabelValues("claim_frontier"))
	ObserveStoreRetry("claim_frontier")
	require.InDelta(t, retries+1, testutil.ToFloat64(storeRetriesTotal.WithLabelValues("claim_frontier")), 0.001)

	SetIndexedPages(42)
	require.InDelta(t, 42, testutil.ToFloat64(schedulerIndexedPagesGauge), 0.001)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
