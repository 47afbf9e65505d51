package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
)

func TestFetchExtractsDocument(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Cats</title></head><body><h1>The cat</h1><a href="/dogs">dogs</a></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "searchcrawler-test", Timeout: 5 * time.Second})
	doc, err := f.Fetch(context.Background(), srv.URL+"/cats")
	require.NoError(t, err)
	require.Equal(t, "searchcrawler-test", <-agents)
	require.Equal(t, http.StatusOK, doc.StatusCode)
	require.Equal(t, "Cats", doc.Title)
	require.Equal(t, "The cat dogs", doc.Text)
	require.Equal(t, []string{srv.URL + "/dogs"}, doc.Links)
	require.NotEmpty(t, doc.Body)
}

func TestFetchReturnsErrorOnHTTPFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFetchNonHTMLHasNoTitle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"<title>nope</title>"}`))
	}))
	defer srv.Close()

	doc, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, doc.Title)
	require.Empty(t, doc.Links)
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 10 * time.Second}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	state := &fetchState{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), state)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.org/final")},
	})
	require.Equal(t, http.StatusCreated, state.doc.StatusCode)
	require.Equal(t, "text/html", state.doc.ContentType)
	require.Equal(t, "body", string(state.doc.Body))
	require.Equal(t, "https://example.org/final", state.base.String())

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, state.err, "boom")
	require.Equal(t, http.StatusBadGateway, state.doc.StatusCode)
}

func TestIsHTML(t *testing.T) {
	t.Parallel()
	require.True(t, isHTML(""))
	require.True(t, isHTML("text/html; charset=utf-8"))
	require.True(t, isHTML("application/xhtml+xml"))
	require.False(t, isHTML("image/png"))
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
