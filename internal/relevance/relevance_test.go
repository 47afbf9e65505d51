package relevance

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/indexer"
	"github.com/JakeFAU/searchcrawler/internal/storage/sqlite"
	"github.com/JakeFAU/searchcrawler/internal/store"
)

func TestScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                    string
		counter, max, total, df int64
		want                    float64
	}{
		{"term on every page", 2, 2, 3, 3, 1 * math.Log(4.0/3.0)},
		{"rare term", 1, 1, 3, 1, math.Log(4)},
		{"half of max", 1, 2, 3, 2, 0.5 * math.Log(2)},
		{"single page corpus", 5, 5, 1, 1, math.Log(2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, Score(tc.counter, tc.max, tc.total, tc.df), 1e-12)
		})
	}
}

func TestIDFIsPositiveForDocFreqWithinCorpus(t *testing.T) {
	t.Parallel()
	for total := int64(1); total < 50; total++ {
		for df := int64(1); df <= total; df++ {
			require.Positive(t, IDF(total, df))
		}
	}
}

// Three pages: A "cat cat dog", B "cat bird", C "fish".
func TestRecomputeAllRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, "file::memory:", zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	ix, err := indexer.New(st, indexer.Config{}, zap.NewNop())
	require.NoError(t, err)
	pages := map[string]string{
		"https://e.org/a": "cat cat dog",
		"https://e.org/b": "cat bird",
		"https://e.org/c": "fish",
	}
	ids := map[string]int64{}
	for _, url := range []string{"https://e.org/a", "https://e.org/b", "https://e.org/c"} {
		res, err := ix.IndexPage(ctx, url, url, pages[url])
		require.NoError(t, err)
		ids[url] = res.PageID
	}

	job := NewJob(st, Config{PageSize: 2, LogEvery: 1}, zap.NewNop())
	sum, err := job.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), sum.TotalPages)
	require.Equal(t, 4, sum.Terms)
	require.Equal(t, int64(5), sum.Rows)
	require.Zero(t, sum.Skipped)

	want := map[string]map[string]float64{
		"https://e.org/a": {"cat": 1 * math.Log(4.0/2.0), "dog": math.Log(4)},
		"https://e.org/b": {"cat": 0.5 * math.Log(4.0/2.0), "bird": math.Log(4)},
		"https://e.org/c": {"fish": math.Log(4)},
	}
	for url, terms := range want {
		occ, err := st.Occurrences(ctx, ids[url])
		require.NoError(t, err)
		require.Len(t, occ, len(terms))
		for _, o := range occ {
			require.InDelta(t, terms[o.Term], o.Relevance, 1e-9, "%s %s", url, o.Term)
		}
	}

	again, err := job.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Equal(t, sum.Rows, again.Rows)
	occ, err := st.Occurrences(ctx, ids["https://e.org/a"])
	require.NoError(t, err)
	for _, o := range occ {
		require.InDelta(t, want["https://e.org/a"][o.Term], o.Relevance, 1e-9, "recompute is idempotent")
	}
}

type stubStore struct {
	total int64
	// grow is added to total after every update, standing in for a crawl
	// that keeps indexing during the pass.
	grow    int64
	terms   []store.Term
	stats   map[int64]store.TermStats
	updates map[int64]float64
	failOn  int64
}

func (s *stubStore) PageCount(context.Context) (int64, error) { return s.total, nil }

func (s *stubStore) ListTerms(_ context.Context, after int64, limit int) ([]store.Term, error) {
	var out []store.Term
	for _, t := range s.terms {
		if t.ID > after && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubStore) TermStats(_ context.Context, id int64) (store.TermStats, error) {
	if id == s.failOn {
		return store.TermStats{}, errors.New("stats exploded")
	}
	return s.stats[id], nil
}

func (s *stubStore) UpdateRelevance(_ context.Context, id int64, maxCounter int64, idf float64) (int64, error) {
	s.updates[id] = idf / float64(maxCounter)
	s.total += s.grow
	return 1, nil
}

func TestRecomputeAllSkipsTermsWithoutOccurrences(t *testing.T) {
	t.Parallel()
	st := &stubStore{
		total: 10,
		terms: []store.Term{{ID: 1, Name: "live"}, {ID: 2, Name: "orphan"}},
		stats: map[int64]store.TermStats{
			1: {MaxCounter: 2, DocFreq: 5},
		},
		updates: map[int64]float64{},
	}
	sum, err := NewJob(st, Config{}, nil).RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sum.Terms)
	require.Equal(t, 1, sum.Skipped)
	require.Len(t, st.updates, 1)
	require.InDelta(t, math.Log(11.0/5.0)/2, st.updates[1], 1e-12)
}

func TestRecomputeAllPropagatesErrors(t *testing.T) {
	t.Parallel()
	st := &stubStore{
		total:   1,
		terms:   []store.Term{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}},
		stats:   map[int64]store.TermStats{1: {MaxCounter: 1, DocFreq: 1}},
		updates: map[int64]float64{},
		failOn:  2,
	}
	sum, err := NewJob(st, Config{}, nil).RecomputeAll(context.Background())
	require.ErrorContains(t, err, "stats exploded")
	require.Equal(t, 1, sum.Terms)
}

func TestRecomputeAllHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := &stubStore{terms: []store.Term{{ID: 1, Name: "a"}}, updates: map[int64]float64{}}
	_, err := NewJob(st, Config{}, nil).RecomputeAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, st.updates)
}

func TestRecomputeAllRereadsPageCountPerTerm(t *testing.T) {
	t.Parallel()
	st := &stubStore{
		total: 1,
		grow:  1,
		terms: []store.Term{{ID: 1, Name: "cat"}, {ID: 2, Name: "dog"}},
		stats: map[int64]store.TermStats{
			1: {MaxCounter: 1, DocFreq: 1},
			2: {MaxCounter: 1, DocFreq: 1},
		},
		updates: map[int64]float64{},
	}
	sum, err := NewJob(st, Config{}, nil).RecomputeAll(context.Background())
	require.NoError(t, err)
	require.InDelta(t, IDF(1, 1), st.updates[1], 1e-12)
	require.InDelta(t, IDF(2, 1), st.updates[2], 1e-12)
	require.Equal(t, int64(2), sum.TotalPages)
}
