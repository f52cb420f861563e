// Package lazylink implements Component I: lazy link evaluation — a
// Page whose real URL is hidden behind an intermediate HTML document is
// resolved by fetching that document and reading one attribute off the
// first element a CSS selector matches.
//
// Grounded on original_source/src/core/downloader.rs::evaluate_lazy_ops,
// which parses the intermediate page with the scraper crate (backed by
// Servo's `selectors` — real CSS, not XPath) and applies a single
// Selector::parse(&hint.selector). github.com/PuerkitoBio/goquery (backed
// by github.com/andybalholm/cascadia) is the Go-ecosystem equivalent and
// is wired in here rather than hand-rolled: both appear in
// _examples/other_examples/manifests/{jacoknapp-scriptorum,ramkansal-gofang,
// valpere-DataScrapexter,PentesterFlow-OpenCrawler}/go.mod. goquery.Find
// itself panics on an invalid selector string, which would turn one bad
// plugin-supplied hint into a process crash instead of a single failed
// Page (spec.md §4.I), so selector compilation goes through
// cascadia.Compile directly (see selector.go) to get an error return
// instead.
package lazylink

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/mxerr"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

// Fetcher is the single capability lazylink needs: a GET that returns
// bytes. httpclient.Client.Fetch satisfies this; kept as a narrow
// interface so this package doesn't import httpclient directly and stays
// independently testable.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error)
}

// Resolve evaluates page's IntermediateLinkHint, if any: fetches the
// page's own URL via the Direct resolver using the page's own fetch
// context (or a zero FetchContext if none), parses the result as HTML,
// applies the hint's selector, and reads the named attribute off the
// first match. Returns a copy of page with URL replaced by the resolved
// value and IntermediateLinkHint cleared.
//
// If page has no hint, Resolve returns page unchanged. Fails with a
// LazyResolution error if the selector matches nothing or the matched
// element lacks the requested attribute, per spec.md §4.I.
func Resolve(ctx context.Context, fetcher Fetcher, page mxmodel.Page) (mxmodel.Page, error) {
	if page.IntermediateLinkHint == nil {
		return page, nil
	}
	hint := page.IntermediateLinkHint

	fc := fetchcontext.FetchContext{}
	if page.FetchContext != nil {
		if cast, ok := page.FetchContext.(fetchcontext.FetchContext); ok {
			fc = cast
		}
	}

	body, err := fetcher.Fetch(ctx, page.URL, fc)
	if err != nil {
		return mxmodel.Page{}, mxerr.Wrapf(mxerr.Network, err, "fetching intermediate page %s", page.URL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return mxmodel.Page{}, mxerr.Wrapf(mxerr.LazyResolution, err, "parsing intermediate HTML at %s", page.URL)
	}

	sel, err := compileSelector(hint.Selector)
	if err != nil {
		return mxmodel.Page{}, mxerr.Wrapf(mxerr.LazyResolution, err, "selector %q for %s", hint.Selector, page.URL)
	}

	match := firstMatch(doc, sel)
	if match == nil {
		return mxmodel.Page{}, mxerr.Newf(mxerr.LazyResolution, "could not find element matching %q at %s", hint.Selector, page.URL)
	}

	value, ok := match.Attr(hint.Attribute)
	if !ok {
		return mxmodel.Page{}, mxerr.Newf(mxerr.LazyResolution, "element matching %q has no attribute %q (page %s)", hint.Selector, hint.Attribute, page.URL)
	}

	resolved := page
	resolved.URL = value
	resolved.IntermediateLinkHint = nil
	return resolved, nil
}
