package lazylink

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// compileSelector compiles s into a cascadia.Selector, the same real CSS
// selector engine goquery.Find uses internally — but goquery.Find panics
// on a bad selector, so Component I's page-level error handling (a bad
// selector must fail just that page, not the process) goes through
// cascadia.Compile directly and surfaces the parse error instead.
func compileSelector(s string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(s)
	if err != nil {
		return nil, errBadSelector(s, err)
	}
	return sel, nil
}

// firstMatch returns the first document-order element under doc that sel
// matches, or nil if none matched.
func firstMatch(doc *goquery.Document, sel cascadia.Selector) *goquery.Selection {
	selection := doc.FindMatcher(sel)
	if selection.Length() == 0 {
		return nil
	}
	return selection.First()
}

type selectorError struct {
	selector string
	cause    error
}

func (e *selectorError) Error() string {
	return "lazylink: bad selector " + e.selector + ": " + e.cause.Error()
}

func (e *selectorError) Unwrap() error { return e.cause }

func errBadSelector(s string, cause error) error {
	return &selectorError{selector: s, cause: cause}
}
