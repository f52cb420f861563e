// Package dispatcher implements Component K: the process-wide owner of
// Config, the Plugin Manager, and the Concurrency Gate, plus the
// optional one-shot HTTP listener used to inject a FetchContext (cookies,
// auth) from an external caller such as a browser extension.
//
// Grounded on cmd/api/main.go's config.New() -> resource init ->
// signals.Setup() -> <-graceful -> ordered teardown sequence, generalized
// from shisho's single always-on HTTP server into mx-scraper's
// mostly-CLI process that only stands up a listener for the `server`
// subcommand.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"

	"github.com/mxscrape/mx-scraper/pkg/cache"
	"github.com/mxscrape/mx-scraper/pkg/config"
	"github.com/mxscrape/mx-scraper/pkg/downloader"
	"github.com/mxscrape/mx-scraper/pkg/gate"
	"github.com/mxscrape/mx-scraper/pkg/httpclient"
	"github.com/mxscrape/mx-scraper/pkg/plugins"
	"github.com/mxscrape/mx-scraper/pkg/resolver"
)

// galleryDLBinary is the always-registered static plugin's executable
// name, resolved via $PATH like any other subprocess invocation.
const galleryDLBinary = "gallery-dl"

// Dispatcher owns every process-wide singleton spec.md §4.K names:
// Config behind a reader-writer lock, the Plugin Manager, the
// Concurrency Gate, and the shared HTTP Client built on top of them.
type Dispatcher struct {
	log logger.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	gate    *gate.Gate
	client  *httpclient.Client
	manager *plugins.Manager
}

// New builds a Dispatcher from cfg: constructs the configured Resolver,
// the Gate sized to cfg.MaxParallelFetch, the Client wrapping both, and
// a Manager with the gallery-dl subprocess plugin pre-registered ahead
// of dynamic script-plugin discovery (Init does the discovery).
func New(cfg *config.Config, log logger.Logger) (*Dispatcher, error) {
	res, err := cfg.NewResolver()
	if err != nil {
		return nil, errors.Wrap(err, "dispatcher: building resolver")
	}

	g := gate.New(int64(cfg.MaxParallelFetch))
	client := httpclient.New(res, g)

	c := cache.New(cfg.Cache.Folder, cfg.Cache.Enable)
	fetchDelay := time.Duration(cfg.Delay.FetchMillis) * time.Millisecond
	manager := plugins.NewManager(c, fetchDelay)
	manager.Register(plugins.NewSubprocessPlugin("gallery-dl", galleryDLBinary))

	return &Dispatcher{log: log, cfg: cfg, gate: g, client: client, manager: manager}, nil
}

// Init prepares folders and discovers script plugins under
// Config.PluginsLocation, handing each discovered plugin its ExtraConfig
// settings via Config.PluginSettings.
func (d *Dispatcher) Init(ctx context.Context) error {
	cfg := d.Config()
	folders := plugins.Folders{
		CacheFolder:    cfg.Cache.Folder,
		DownloadFolder: cfg.DownloadRoot,
		TempFolder:     cfg.TempRoot,
		MetadataFolder: cfg.MetadataRoot,
		PluginsFolder:  cfg.PluginsLocation,
	}
	return d.manager.Init(ctx, folders, cfg.PluginsLocation, cfg.PluginSettings)
}

// Destroy releases every registered plugin's resources.
func (d *Dispatcher) Destroy(ctx context.Context) error {
	return d.manager.Destroy(ctx)
}

// Config returns the current Config under a read lock. Callers must not
// mutate the returned pointer's fields directly — use ReplaceConfig or
// InstallCookieOverride, both of which take the write lock.
func (d *Dispatcher) Config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// ReplaceConfig swaps in a new Config wholesale, e.g. after a CLI
// override is applied to a freshly loaded copy. Matches spec.md §9's
// "writes occur on CLI-override ingestion and on cookie-callback
// injection" note for the reader-writer lock.
func (d *Dispatcher) ReplaceConfig(cfg *config.Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

// Resize adjusts the Gate's capacity to n permits.
func (d *Dispatcher) Resize(ctx context.Context, n int64) error {
	return d.gate.Resize(ctx, n)
}

// Manager returns the process-wide Plugin Manager.
func (d *Dispatcher) Manager() *plugins.Manager {
	return d.manager
}

// Client returns the process-wide HTTP Client.
func (d *Dispatcher) Client() *httpclient.Client {
	return d.client
}

// Resolve runs Component G (the batched term resolver) against the
// current Manager.
func (d *Dispatcher) Resolve(ctx context.Context, terms []string, opts resolver.Options) ([]string, map[string]resolver.Entry, error) {
	return resolver.Run(ctx, d.manager, terms, opts)
}

// Download runs Component H (the batch downloader) against the current
// Config's folders and snapshot.
func (d *Dispatcher) Download(ctx context.Context, results []plugins.FetchResult, batchSize int) ([]downloader.Outcome, error) {
	cfg := d.Config()
	folders := downloader.Folders{
		DownloadRoot: cfg.DownloadRoot,
		TempRoot:     cfg.TempRoot,
		MetadataRoot: cfg.MetadataRoot,
	}
	snapshot := downloader.Snapshot{
		MetaOnly:          cfg.Runtime.MetaOnly,
		DownloadDelay:     time.Duration(cfg.Delay.DownloadMillis) * time.Millisecond,
		Verbose:           cfg.Runtime.Verbose,
		CustomDownloader:  cfg.Runtime.CustomDownloader,
		PageMiniBatchSize: cfg.Batch.PageMiniBatch,
	}
	dl := downloader.New(d.client, d.manager, folders, snapshot)
	return dl.BatchDownload(ctx, results, batchSize)
}

// InstallCookieOverride installs cookies as the `_all` request profile's
// cookie list and, if ua is non-empty, overrides its user-agent. The
// `server` subcommand's cookie-callback endpoint (§4.K) lands here;
// `--cookies FILE` and `--listen-cookies` call Config.IngestCookieFile
// directly instead.
func (d *Dispatcher) InstallCookieOverride(cookiesJSON []byte, userAgent string) error {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()

	if err := d.cfg.IngestCookieFile(cookiesJSON); err != nil {
		return err
	}
	if userAgent != "" {
		all := d.cfg.Requests[config.AllProfile]
		all.UserAgent = userAgent
		d.cfg.Requests[config.AllProfile] = all
	}
	return nil
}
