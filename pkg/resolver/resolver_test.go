package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxscrape/mx-scraper/pkg/mxerr"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
	"github.com/mxscrape/mx-scraper/pkg/plugins"
)

type stubFetcher struct {
	mu         sync.Mutex
	fetchCalls []string
	autoCalls  []string
	results    map[string]*plugins.FetchResult
	errs       map[string]error
	panicTerms map[string]bool
}

func (s *stubFetcher) Fetch(ctx context.Context, term, pluginName string) (*plugins.FetchResult, error) {
	s.mu.Lock()
	s.fetchCalls = append(s.fetchCalls, term)
	s.mu.Unlock()
	return s.resolve(term)
}

func (s *stubFetcher) AutoFetch(ctx context.Context, term string) (*plugins.FetchResult, error) {
	s.mu.Lock()
	s.autoCalls = append(s.autoCalls, term)
	s.mu.Unlock()
	return s.resolve(term)
}

func (s *stubFetcher) resolve(term string) (*plugins.FetchResult, error) {
	if s.panicTerms[term] {
		panic("boom: " + term)
	}
	if err, ok := s.errs[term]; ok {
		return nil, err
	}
	return s.results[term], nil
}

func TestRunDedupesPreservingFirstOccurrence(t *testing.T) {
	f := &stubFetcher{results: map[string]*plugins.FetchResult{
		"a": {QueryTerm: "a", Book: &mxmodel.Book{Title: "A"}},
		"b": {QueryTerm: "b", Book: &mxmodel.Book{Title: "B"}},
	}}

	order, results, err := Run(context.Background(), f, []string{"a", "b", "a", "a"}, Options{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, len(f.autoCalls), "each distinct term resolved exactly once")
}

func TestRunUsesForcedPluginWhenSet(t *testing.T) {
	f := &stubFetcher{results: map[string]*plugins.FetchResult{"a": {QueryTerm: "a"}}}

	_, _, err := Run(context.Background(), f, []string{"a"}, Options{BatchSize: 10, Plugin: "p1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, f.fetchCalls)
	assert.Empty(t, f.autoCalls)
}

func TestRunPartitionsIntoSequentialChunks(t *testing.T) {
	f := &stubFetcher{results: map[string]*plugins.FetchResult{
		"a": {QueryTerm: "a"}, "b": {QueryTerm: "b"}, "c": {QueryTerm: "c"},
	}}

	order, results, err := Run(context.Background(), f, []string{"a", "b", "c"}, Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Len(t, results, 3)
}

func TestRunZeroBatchSizeFails(t *testing.T) {
	f := &stubFetcher{}
	_, _, err := Run(context.Background(), f, []string{"a"}, Options{BatchSize: 0})
	assert.Error(t, err)
}

func TestRunPerTermErrorsAreCaptured(t *testing.T) {
	f := &stubFetcher{errs: map[string]error{"a": errors.New("resolution failed")}}

	_, results, err := Run(context.Background(), f, []string{"a"}, Options{BatchSize: 10})
	require.NoError(t, err)
	require.Contains(t, results, "a")
	assert.Error(t, results["a"].Err)
}

func TestRunPanickedTermHasNoEntry(t *testing.T) {
	f := &stubFetcher{panicTerms: map[string]bool{"bad": true}, results: map[string]*plugins.FetchResult{
		"good": {QueryTerm: "good"},
	}}

	order, results, err := Run(context.Background(), f, []string{"good", "bad"}, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "bad"}, order)
	assert.Contains(t, results, "good")
	assert.NotContains(t, results, "bad")
}

func TestRunReportsProgress(t *testing.T) {
	f := &stubFetcher{results: map[string]*plugins.FetchResult{
		"a": {QueryTerm: "a", Cached: false},
		"b": {QueryTerm: "b", Cached: true},
	}}

	var mu sync.Mutex
	var snapshots []Progress
	_, _, err := Run(context.Background(), f, []string{"a", "b"}, Options{
		BatchSize: 10,
		OnProgress: func(p Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 2)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 2, last.Done)
	assert.Equal(t, 2, last.Total)
	assert.Equal(t, 1, last.Fetched)
	assert.Equal(t, 1, last.Cached)
}

func TestRunCancelledContextSurfacesAsCancelledFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &stubFetcher{errs: map[string]error{"a": errors.New("transport closed")}}

	_, results, err := Run(ctx, f, []string{"a"}, Options{BatchSize: 10})
	require.NoError(t, err)
	require.Contains(t, results, "a")
	assert.Error(t, results["a"].Err)
	assert.Equal(t, mxerr.Cancelled, mxerr.KindOf(results["a"].Err))
}
