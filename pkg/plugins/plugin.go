// Package plugins implements Component F: the plugin trait/manager pair
// every term resolution and download goes through.
//
// Grounded on original_source/src/plugins/mod.rs's MXPlugin trait and
// PluginManager (auto_fetch/fetch/list_plugins/assert_exists/download_url/
// init-with-prepare_folders), generalized from its closed Python/gallery-dl
// two-variant enum to an open Plugin interface with two concrete
// implementations (ScriptPlugin, SubprocessPlugin) — additions not present
// in the distilled spec, built in the idiom of the teacher's goja-hosted
// host-API plugin runtime (pkg/plugins/{runtime,manifest,hostapi_http,
// hostapi_shell}.go) stripped of all database/service coupling.
package plugins

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

// ErrSearchUnimplemented is returned by Plugin.Search implementations
// that don't support free-text search, per spec.md §4.F's "may be
// unimplemented in the core" note.
var ErrSearchUnimplemented = errors.New("plugins: search is not implemented by this plugin")

// SearchOption carries optional filters for Plugin.Search. The core does
// not require plugins to implement search (spec.md §4.F) — most return
// ErrSearchUnimplemented.
type SearchOption struct {
	Limit int
}

// Plugin is every resolver's capability surface: the Go analogue of
// MXPlugin. A plugin resolves a single opaque term (a URL, an ID, a
// search phrase — whatever its own IsSupported recognizes) into a Book.
type Plugin interface {
	// Name returns the plugin's unique registration name.
	Name() string

	// Init prepares the plugin for use (opens a subprocess, warms a VM,
	// validates config) and is called once in registration order during
	// Manager.Init.
	Init(ctx context.Context) error

	// Destroy releases resources acquired by Init. Called once in
	// registration order during Manager.Destroy.
	Destroy(ctx context.Context) error

	// GetBook resolves term into a fully populated Book.
	GetBook(ctx context.Context, term string) (*mxmodel.Book, error)

	// IsSupported reports whether this plugin recognizes term, without
	// performing a full resolution. Used by Manager.AutoFetch to pick a
	// plugin.
	IsSupported(ctx context.Context, term string) (bool, error)

	// Search performs an optional free-text search. Plugins that don't
	// support searching return ErrSearchUnimplemented.
	Search(ctx context.Context, term string, opt SearchOption) ([]mxmodel.Book, error)

	// DownloadURL gives the plugin a chance to handle fetching url to
	// dest itself instead of the Direct resolver. handled=false means
	// "use the default downloader" — the Go equivalent of the source's
	// Option<Result<()>> "none" case.
	DownloadURL(ctx context.Context, dest string, url string) (handled bool, err error)
}

// FetchResult is what Manager.Fetch and Manager.AutoFetch return: the
// resolved Book plus the provenance of how it was obtained.
type FetchResult struct {
	QueryTerm  string
	Book       *mxmodel.Book
	PluginName string
	Cached     bool
}

// CountPages sums pages across every chapter of the resolved book.
func (r FetchResult) CountPages() int {
	if r.Book == nil {
		return 0
	}
	return r.Book.CountPages()
}
