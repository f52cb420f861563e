package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxscrape/mx-scraper/pkg/cache"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

type stubPlugin struct {
	name        string
	supported   map[string]bool
	books       map[string]*mxmodel.Book
	resolveErr  error
	resolveCnt  int
}

func (s *stubPlugin) Name() string                          { return s.name }
func (s *stubPlugin) Init(ctx context.Context) error         { return nil }
func (s *stubPlugin) Destroy(ctx context.Context) error      { return nil }
func (s *stubPlugin) Search(ctx context.Context, term string, opt SearchOption) ([]mxmodel.Book, error) {
	return nil, ErrSearchUnimplemented
}
func (s *stubPlugin) DownloadURL(ctx context.Context, dest, url string) (bool, error) {
	return false, nil
}

func (s *stubPlugin) IsSupported(ctx context.Context, term string) (bool, error) {
	return s.supported[term], nil
}

func (s *stubPlugin) GetBook(ctx context.Context, term string) (*mxmodel.Book, error) {
	s.resolveCnt++
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.books[term], nil
}

func TestManagerFetchCachesOnSecondCall(t *testing.T) {
	c := cache.New(t.TempDir(), true)
	m := NewManager(c, 0)
	p := &stubPlugin{name: "p1", books: map[string]*mxmodel.Book{"term": {Title: "Found"}}}
	m.Register(p)

	result, err := m.Fetch(context.Background(), "term", "p1")
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, "Found", result.Book.Title)

	result2, err := m.Fetch(context.Background(), "term", "p1")
	require.NoError(t, err)
	assert.True(t, result2.Cached)
	assert.Equal(t, 1, p.resolveCnt, "second fetch must hit the cache, not call GetBook again")
}

func TestManagerFetchUnknownPluginFails(t *testing.T) {
	m := NewManager(nil, 0)
	_, err := m.Fetch(context.Background(), "term", "nope")
	assert.Error(t, err)
}

func TestManagerAutoFetchPicksFirstSupportingPlugin(t *testing.T) {
	m := NewManager(nil, 0)
	p1 := &stubPlugin{name: "p1", supported: map[string]bool{}, books: map[string]*mxmodel.Book{}}
	p2 := &stubPlugin{name: "p2", supported: map[string]bool{"term": true}, books: map[string]*mxmodel.Book{"term": {Title: "From p2"}}}
	m.Register(p1)
	m.Register(p2)

	result, err := m.AutoFetch(context.Background(), "term")
	require.NoError(t, err)
	assert.Equal(t, "p2", result.PluginName)
	assert.Equal(t, "From p2", result.Book.Title)
}

func TestManagerAutoFetchNoSupportingPluginFails(t *testing.T) {
	m := NewManager(nil, 0)
	m.Register(&stubPlugin{name: "p1"})

	_, err := m.AutoFetch(context.Background(), "term")
	assert.Error(t, err)
}

func TestManagerListAndAssertExists(t *testing.T) {
	m := NewManager(nil, 0)
	m.Register(&stubPlugin{name: "a"})
	m.Register(&stubPlugin{name: "b"})

	assert.Equal(t, []string{"a", "b"}, m.List())
	assert.NoError(t, m.AssertExists("a"))
	assert.Error(t, m.AssertExists("missing"))
}

func TestManagerFetchDelayIsApplied(t *testing.T) {
	m := NewManager(nil, 20*time.Millisecond)
	m.Register(&stubPlugin{name: "p1", books: map[string]*mxmodel.Book{"t": {Title: "x"}}})

	start := time.Now()
	_, err := m.Fetch(context.Background(), "t", "p1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
