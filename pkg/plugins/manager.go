package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mxscrape/mx-scraper/pkg/cache"
	"github.com/mxscrape/mx-scraper/pkg/mxerr"
)

// Manager holds an ordered, in-memory registry of plugins and implements
// the cache-then-resolve fetch path. Rewritten from the teacher's
// database/Service-backed Manager into a pure in-memory registry —
// grounded instead on original_source/src/plugins/mod.rs's PluginManager,
// whose plugins field is just a Vec<PluginImpl> with no persistence.
type Manager struct {
	plugins    []Plugin
	cache      *cache.Cache
	fetchDelay time.Duration
}

// Folders lists the directories Manager.Init creates before plugins are
// loaded, mirroring PluginManager::prepare_folders.
type Folders struct {
	CacheFolder    string
	DownloadFolder string
	TempFolder     string
	MetadataFolder string
	PluginsFolder  string
}

// NewManager returns an empty Manager. Plugins are added via Register
// (static plugins) and discovered via Init (dynamic script plugins).
func NewManager(c *cache.Cache, fetchDelay time.Duration) *Manager {
	return &Manager{cache: c, fetchDelay: fetchDelay}
}

// Register adds a statically-known plugin (e.g. the built-in subprocess
// plugin) to the registry in call order, ahead of Init's dynamic
// discovery — matching the source's `dyn_plugins.chain(static_plugins)`
// ordering being reversed here only in spirit: call order is registration
// order, and Init below appends discovered script plugins after whatever
// was already registered.
func (m *Manager) Register(p Plugin) {
	m.plugins = append(m.plugins, p)
}

// Init prepares folders, discovers script plugins under
// pluginsLocation (one subdirectory per plugin containing a
// manifest.json + main.js pair), and calls Init on every plugin in
// registration order. settingsFor resolves the static config map handed
// to a discovered script plugin's mx.config namespace, keyed by plugin
// directory name.
func (m *Manager) Init(ctx context.Context, folders Folders, pluginsLocation string, settingsFor func(name string) map[string]string) error {
	if err := prepareFolders(folders); err != nil {
		return err
	}

	if pluginsLocation != "" {
		entries, err := os.ReadDir(pluginsLocation)
		if err != nil && !os.IsNotExist(err) {
			return mxerr.Wrap(mxerr.Filesystem, err, "reading plugins.location")
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(pluginsLocation, entry.Name())
			manifestPath := filepath.Join(dir, "manifest.json")
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}

			settings := map[string]string{}
			if settingsFor != nil {
				settings = settingsFor(entry.Name())
			}
			sp, err := NewScriptPlugin(dir, settings)
			if err != nil {
				return mxerr.Wrap(mxerr.PluginResolution, err, "loading script plugin "+entry.Name())
			}
			m.plugins = append(m.plugins, sp)
		}
	}

	for _, p := range m.plugins {
		if err := p.Init(ctx); err != nil {
			return mxerr.Wrap(mxerr.PluginResolution, err, "initializing plugin "+p.Name())
		}
	}
	return nil
}

func prepareFolders(f Folders) error {
	dirs := []string{f.CacheFolder, f.TempFolder, f.DownloadFolder, f.MetadataFolder, f.PluginsFolder}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return mxerr.Wrapf(mxerr.Filesystem, err, "creating folder %s", dir)
		}
	}
	return nil
}

// Destroy calls Destroy on every plugin in registration order.
func (m *Manager) Destroy(ctx context.Context) error {
	for _, p := range m.plugins {
		if err := p.Destroy(ctx); err != nil {
			return errors.Wrapf(err, "destroying plugin %s", p.Name())
		}
	}
	return nil
}

// List returns every registered plugin's name, in registration order.
func (m *Manager) List() []string {
	names := make([]string, len(m.plugins))
	for i, p := range m.plugins {
		names[i] = p.Name()
	}
	return names
}

// AssertExists fails if name is not a registered plugin.
func (m *Manager) AssertExists(name string) error {
	for _, p := range m.plugins {
		if p.Name() == name {
			return nil
		}
	}
	return mxerr.Newf(mxerr.PluginResolution, "plugin named %q does not exist", name)
}

func (m *Manager) find(name string) Plugin {
	for _, p := range m.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Fetch resolves term using the named plugin: cache lookup first, then
// plugin resolution on a miss, then an unconditional delay.fetch sleep,
// matching PluginManager::fetch_by_plugin.
func (m *Manager) Fetch(ctx context.Context, term, pluginName string) (*FetchResult, error) {
	p := m.find(pluginName)
	if p == nil {
		return nil, mxerr.Newf(mxerr.PluginResolution, "no plugin named %q", pluginName)
	}

	cached := false
	return m.fetchWith(ctx, term, p, &cached)
}

func (m *Manager) fetchWith(ctx context.Context, term string, p Plugin, cachedFlag *bool) (*FetchResult, error) {
	if m.cache != nil {
		if book, hit, err := m.cache.Lookup(term, p.Name()); err != nil {
			return nil, mxerr.Wrap(mxerr.CacheCorruption, err, "cache lookup for "+term)
		} else if hit {
			*cachedFlag = true
			m.sleepFetchDelay(ctx)
			return &FetchResult{QueryTerm: term, Book: book, PluginName: p.Name(), Cached: true}, nil
		}
	}

	book, err := p.GetBook(ctx, term)
	if err != nil {
		return nil, mxerr.Wrap(mxerr.PluginResolution, err, "resolving "+term+" via "+p.Name())
	}

	if m.cache != nil {
		if err := m.cache.Insert(term, p.Name(), book); err != nil {
			return nil, mxerr.Wrap(mxerr.CacheCorruption, err, "writing cache for "+term)
		}
	}

	m.sleepFetchDelay(ctx)
	return &FetchResult{QueryTerm: term, Book: book, PluginName: p.Name(), Cached: false}, nil
}

func (m *Manager) sleepFetchDelay(ctx context.Context) {
	if m.fetchDelay <= 0 {
		return
	}
	timer := time.NewTimer(m.fetchDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// AutoFetch iterates plugins in registration order, calling IsSupported
// on each; the first one to return true is used to Fetch. If no plugin
// supports term, returns a composite error listing every per-plugin
// issue encountered, matching PluginManager::auto_fetch.
func (m *Manager) AutoFetch(ctx context.Context, term string) (*FetchResult, error) {
	var issues []string
	evaluated := false

	for _, p := range m.plugins {
		supported, err := p.IsSupported(ctx, term)
		evaluated = true
		if err != nil {
			issues = append(issues, "  - Plugin "+p.Name()+": "+err.Error())
			continue
		}
		if !supported {
			continue
		}

		cached := false
		return m.fetchWith(ctx, term, p, &cached)
	}

	if len(issues) > 0 {
		return nil, mxerr.New(mxerr.PluginResolution, "\n"+strings.Join(issues, "\n"))
	}
	if !evaluated {
		return nil, mxerr.New(mxerr.PluginResolution, "no plugins registered")
	}
	return nil, mxerr.Newf(mxerr.PluginResolution, "cannot auto-detect plugin that supports the term %q", term)
}

// DownloadURL dispatches to the named plugin's custom downloader, if any.
func (m *Manager) DownloadURL(ctx context.Context, pluginName, dest, url string) (handled bool, err error) {
	p := m.find(pluginName)
	if p == nil {
		return false, mxerr.Newf(mxerr.PluginResolution, "no plugin named %q", pluginName)
	}
	return p.DownloadURL(ctx, dest, url)
}
