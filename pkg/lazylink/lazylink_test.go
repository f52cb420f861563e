package lazylink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

type stubFetcher struct {
	body []byte
	err  error
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	return s.body, s.err
}

func TestResolveNoHintReturnsUnchanged(t *testing.T) {
	page := mxmodel.Page{URL: "http://x/intermediate"}
	out, err := Resolve(context.Background(), &stubFetcher{}, page)
	require.NoError(t, err)
	assert.Equal(t, page, out)
}

func TestResolveFindsAttributeViaClassSelector(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(`<html><body><img class="full" src="http://host/real.jpg"></body></html>`)}
	page := mxmodel.Page{
		URL:                   "http://host/intermediate",
		IntermediateLinkHint:  &mxmodel.LinkHint{Selector: "img.full", Attribute: "src"},
	}

	out, err := Resolve(context.Background(), fetcher, page)
	require.NoError(t, err)
	assert.Equal(t, "http://host/real.jpg", out.URL)
	assert.Nil(t, out.IntermediateLinkHint)
}

func TestResolveDescendantSelector(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(`<html><body><div class="chapter"><img class="full" src="http://host/nested.jpg"></div></body></html>`)}
	page := mxmodel.Page{
		URL:                  "http://host/intermediate",
		IntermediateLinkHint: &mxmodel.LinkHint{Selector: "div.chapter img.full", Attribute: "src"},
	}

	out, err := Resolve(context.Background(), fetcher, page)
	require.NoError(t, err)
	assert.Equal(t, "http://host/nested.jpg", out.URL)
}

func TestResolveNoMatchFails(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(`<html><body><p>nothing here</p></body></html>`)}
	page := mxmodel.Page{
		URL:                  "http://host/intermediate",
		IntermediateLinkHint: &mxmodel.LinkHint{Selector: "img.full", Attribute: "src"},
	}

	_, err := Resolve(context.Background(), fetcher, page)
	assert.Error(t, err)
}

func TestResolveMissingAttributeFails(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(`<html><body><img class="full"></body></html>`)}
	page := mxmodel.Page{
		URL:                  "http://host/intermediate",
		IntermediateLinkHint: &mxmodel.LinkHint{Selector: "img.full", Attribute: "src"},
	}

	_, err := Resolve(context.Background(), fetcher, page)
	assert.Error(t, err)
}

func TestResolveFetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: assertErr("boom")}
	page := mxmodel.Page{
		URL:                  "http://host/intermediate",
		IntermediateLinkHint: &mxmodel.LinkHint{Selector: "img", Attribute: "src"},
	}
	_, err := Resolve(context.Background(), fetcher, page)
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
