package frontier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/storage/sqlite"
	"github.com/JakeFAU/searchcrawler/internal/store"
)

func newFrontier(t *testing.T) (*Frontier, *sqlite.IndexStore) {
	t.Helper()
	st, err := sqlite.Open(context.Background(), "file::memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, zap.NewNop()), st
}

func TestAddBoostThenVisit(t *testing.T) {
	t.Parallel()
	f, st := newFrontier(t)
	ctx := context.Background()

	outcome, err := f.Add(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)

	outcome, err = f.Add(ctx, "https://example.org/a#frag")
	require.NoError(t, err)
	require.Equal(t, OutcomeBoosted, outcome)

	entry, err := st.LookupFrontier(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.Equal(t, int64(2), entry.Score)
	require.False(t, entry.Visited)

	next, ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Entry{URL: "https://example.org/a", Score: 2}, next)

	outcome, err = f.Add(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.Equal(t, OutcomeVisited, outcome)

	entry, err = st.LookupFrontier(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.True(t, entry.Visited)
	require.Equal(t, int64(2), entry.Score)

	_, ok, err = f.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddRejectsFilteredURLs(t *testing.T) {
	t.Parallel()
	f, st := newFrontier(t)
	ctx := context.Background()

	for _, raw := range []string{"https://example.org/report.pdf", "#top", "mailto:x@example.org"} {
		outcome, err := f.Add(ctx, raw)
		require.NoError(t, err)
		require.Equal(t, OutcomeRejected, outcome, raw)
	}
	_, err := st.LookupFrontier(ctx, "https://example.org/report.pdf")
	require.ErrorIs(t, err, store.ErrNotFound)

	outcome, err := f.Add(ctx, "https://example.org/page")
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)
}

func TestNextPrefersScoreThenInsertionOrder(t *testing.T) {
	t.Parallel()
	f, _ := newFrontier(t)
	ctx := context.Background()

	admitted, err := f.AddAll(ctx, []string{
		"https://a.example/",
		"https://b.example/",
		"https://c.example/",
		"https://c.example/",
		"https://d.example/x.zip",
	})
	require.NoError(t, err)
	require.Equal(t, 4, admitted)

	var got []string
	for {
		e, ok, err := f.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e.URL)
	}
	require.Equal(t, []string{"https://c.example/", "https://a.example/", "https://b.example/"}, got)
}

func TestEachURLIsHandedOutOnce(t *testing.T) {
	t.Parallel()
	f, _ := newFrontier(t)
	ctx := context.Background()

	_, err := f.AddAll(ctx, []string{"https://e.org/1", "https://e.org/2", "https://e.org/1"})
	require.NoError(t, err)

	seen := map[string]int{}
	for {
		e, ok, err := f.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[e.URL]++
		_, err = f.AddAll(ctx, []string{e.URL, "https://e.org/1"})
		require.NoError(t, err)
	}
	require.Equal(t, map[string]int{"https://e.org/1": 1, "https://e.org/2": 1}, seen)
}

type failingStore struct {
	store.FrontierStore
}

func (failingStore) UpsertFrontier(context.Context, string) (int64, bool, error) {
	return 0, false, errors.New("disk on fire")
}

func (failingStore) ClaimFrontier(context.Context) (store.FrontierEntry, error) {
	return store.FrontierEntry{}, errors.New("disk on fire")
}

func TestStoreErrorsPropagate(t *testing.T) {
	t.Parallel()
	f := New(failingStore{}, nil)

	_, err := f.Add(context.Background(), "https://example.org/")
	require.ErrorContains(t, err, "disk on fire")

	_, _, err = f.Next(context.Background())
	require.ErrorContains(t, err, "disk on fire")

	_, err = f.AddAll(context.Background(), []string{"https://example.org/"})
	require.Error(t, err)
}
