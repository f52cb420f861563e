// Package downloader implements Component H: the two-stage (temp then
// final) book downloader. Books are partitioned into sequential
// batches; within a batch every book downloads concurrently; within a
// book, chapters download sequentially and pages within a chapter
// download in mini-batches.
//
// Grounded on original_source/src/core/downloader.rs::{batch_download,
// download, download_book, download_page, evaluate_lazy_ops}; the
// temp→final promotion itself is built on pkg/fileutils.MoveDir's
// rename-with-copy-fallback.
package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"

	"github.com/mxscrape/mx-scraper/pkg/batching"
	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/fileutils"
	"github.com/mxscrape/mx-scraper/pkg/fingerprint"
	"github.com/mxscrape/mx-scraper/pkg/lazylink"
	"github.com/mxscrape/mx-scraper/pkg/mxerr"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
	"github.com/mxscrape/mx-scraper/pkg/plugins"
	"github.com/mxscrape/mx-scraper/pkg/version"
)

// HTTPClient is the subset of httpclient.Client the downloader needs: a
// gated, Direct-resolver-only download, used both for page bytes and (via
// directFetcher below) for lazy-link evaluation.
type HTTPClient interface {
	Download(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error)
}

// PluginDownloader is the subset of plugins.Manager the downloader needs
// for the custom-downloader dispatch path.
type PluginDownloader interface {
	DownloadURL(ctx context.Context, pluginName, dest, url string) (handled bool, err error)
}

// Snapshot is the runtime config captured once per book, ahead of that
// book's download, to avoid re-locking a shared config on every page —
// matching download_book's "(meta_only, delay, verbose, custom_downloader,
// max_size_mini_batch, downloader)" tuple capture.
type Snapshot struct {
	MetaOnly          bool
	DownloadDelay     time.Duration
	Verbose           bool
	CustomDownloader  bool
	PageMiniBatchSize int
}

// Folders are the three root directories books are organized under; a
// book's own subtree is <root>/<plugin>/<sanitized title (fingerprint
// prefix 10)>, per spec.md §4.H and §6.
type Folders struct {
	DownloadRoot string
	TempRoot     string
	MetadataRoot string
}

// bookFolders is Folders resolved for one specific book.
type bookFolders struct {
	download string
	temp     string
	metadata string
}

func (f Folders) forBook(title, term, plugin string) bookFolders {
	dirName := fingerprint.BookDirName(title, term, plugin)
	return bookFolders{
		download: filepath.Join(f.DownloadRoot, plugin, dirName),
		temp:     filepath.Join(f.TempRoot, plugin, dirName),
		metadata: filepath.Join(f.MetadataRoot, plugin, dirName),
	}
}

// Outcome is one book's download result.
type Outcome struct {
	QueryTerm string
	Err       error
}

// Downloader drives batch_download/download_book/download_page.
type Downloader struct {
	client   HTTPClient
	plugins  PluginDownloader
	folders  Folders
	snapshot Snapshot
	log      logger.Logger
}

// New builds a Downloader. snapshot is captured once, at construction
// time, per spec.md's "materialize a runtime config snapshot" step —
// callers that need a fresh snapshot per batch should build a new
// Downloader per batch.
func New(client HTTPClient, pluginManager PluginDownloader, folders Folders, snapshot Snapshot) *Downloader {
	return &Downloader{client: client, plugins: pluginManager, folders: folders, snapshot: snapshot, log: logger.New()}
}

// BatchDownload partitions results into batches of batchSize and
// downloads them sequentially, one batch at a time; within a batch every
// book downloads concurrently. Returns one Outcome per input result, in
// input order.
func (d *Downloader) BatchDownload(ctx context.Context, results []plugins.FetchResult, batchSize int) ([]Outcome, error) {
	batches, err := batching.Partition(results, batchSize)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(results))
	for i, batch := range batches {
		d.log.Info("downloading batch", logger.Data{"batch": i + 1, "of": len(batches), "books": len(batch)})
		outcomes = append(outcomes, d.downloadBatch(ctx, batch)...)
	}
	return outcomes, nil
}

func (d *Downloader) downloadBatch(ctx context.Context, batch []plugins.FetchResult) []Outcome {
	outcomes := make([]Outcome, len(batch))
	var wg sync.WaitGroup
	wg.Add(len(batch))

	for i, result := range batch {
		i, result := i, result
		go func() {
			defer wg.Done()
			outcomes[i] = d.downloadBookRecovered(ctx, result)
		}()
	}

	wg.Wait()
	return outcomes
}

// downloadBookRecovered wraps downloadBook with the same panic-recovery
// idiom as pkg/worker.processJobs: a panicked book-download task resumes
// the panic after logging, matching the source's "task panic resumes
// unwinding" failure semantics instead of silently swallowing it.
func (d *Downloader) downloadBookRecovered(ctx context.Context, result plugins.FetchResult) (outcome Outcome) {
	outcome = Outcome{QueryTerm: result.QueryTerm}

	// Per-book correlation id, matching pkg/worker.processJobs's
	// uuid.NewRandom()+log.ID() idiom for tying a book's scattered
	// chapter/page log lines back to one task.
	log := d.log
	if id, err := uuid.NewRandom(); err == nil {
		log = log.ID(id.String())
	}

	defer func() {
		if r := recover(); r != nil {
			log.Err(errors.Errorf("%v", r)).Error("book download panicked", logger.Data{"term": result.QueryTerm})
			panic(r)
		}
	}()

	if err := d.downloadBook(ctx, log, result); err != nil {
		if ctx.Err() != nil {
			outcome.Err = mxerr.Wrapf(mxerr.Cancelled, ctx.Err(), "downloading %q", result.QueryTerm)
		} else {
			outcome.Err = err
		}
	}
	return outcome
}

func (d *Downloader) downloadBook(ctx context.Context, log logger.Logger, result plugins.FetchResult) error {
	if result.Book == nil {
		return mxerr.Newf(mxerr.Bug, "fetch result for %q has no book", result.QueryTerm)
	}
	book := result.Book

	folders := d.folders.forBook(book.Title, result.QueryTerm, result.PluginName)

	if d.snapshot.MetaOnly {
		destPath := filepath.Join(folders.metadata, fingerprint.Sanitize(book.SourceID)+".json")
		return writeMetadataFile(destPath, book)
	}

	stagingPath := filepath.Join(folders.temp, fingerprint.Sanitize(book.SourceID)+".json")
	if err := writeMetadataFile(stagingPath, book); err != nil {
		return err
	}

	for ci, chapter := range book.Chapters {
		if d.snapshot.Verbose {
			log.Debug("downloading chapter", logger.Data{
				"plugin": result.PluginName, "cached": result.Cached, "term": result.QueryTerm,
				"chapter": ci + 1, "of": len(book.Chapters), "title": chapter.Title,
			})
		}
		if err := d.downloadChapter(ctx, result.PluginName, chapter, folders); err != nil {
			return mxerr.Wrapf(mxerr.Filesystem, err, "chapter %d/%d (%s)", ci+1, len(book.Chapters), chapter.Title)
		}
	}

	return promote(folders, d.folders.TempRoot)
}

func (d *Downloader) downloadChapter(ctx context.Context, pluginName string, chapter mxmodel.Chapter, folders bookFolders) error {
	chapterDir := fingerprint.SanitizeAsPath(chapter.Title, "")
	downDir := filepath.Join(folders.download, chapterDir)
	tempDir := filepath.Join(folders.temp, chapterDir)

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating chapter temp dir %s", tempDir)
	}

	pageBatches, err := batching.Partition(chapter.Pages, d.snapshot.PageMiniBatchSize)
	if err != nil {
		return err
	}

	var failedMu sync.Mutex
	var failed []string

	for _, pageBatch := range pageBatches {
		var wg sync.WaitGroup
		wg.Add(len(pageBatch))

		for _, page := range pageBatch {
			page := page
			go func() {
				defer wg.Done()
				err := d.downloadPageRecovered(ctx, pluginName, page, tempDir, downDir)
				d.sleepDownloadDelay(ctx)
				if err != nil {
					failedMu.Lock()
					failed = append(failed, fmt.Sprintf("%s: %v", page.Filename, err))
					failedMu.Unlock()
				}
			}()
		}

		wg.Wait()
	}

	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "\n"))
	}
	return nil
}

func (d *Downloader) downloadPageRecovered(ctx context.Context, pluginName string, page mxmodel.Page, tempDir, downDir string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Err(errors.Errorf("%v", r)).Error("page download panicked", logger.Data{"page": page.Filename})
			panic(r)
		}
	}()
	return d.downloadPage(ctx, pluginName, page, tempDir, downDir)
}

// downloadPage is resumable: it skips pages whose temp or final path
// already exists, per spec.md §4.H.
func (d *Downloader) downloadPage(ctx context.Context, pluginName string, page mxmodel.Page, tempDir, downDir string) error {
	tempPath := filepath.Join(tempDir, page.Filename)
	downPath := filepath.Join(downDir, page.Filename)

	if fileExists(tempPath) || fileExists(downPath) {
		return nil
	}

	resolved, err := lazylink.Resolve(ctx, directFetcher{d.client}, page)
	if err != nil {
		return err
	}

	if d.snapshot.CustomDownloader {
		handled, err := d.plugins.DownloadURL(ctx, pluginName, tempPath, resolved.URL)
		if err != nil {
			return mxerr.Wrapf(mxerr.Network, err, "custom downloader for %s", pluginName)
		}
		if handled {
			return nil
		}
	}

	fc := fetchcontext.FetchContext{}
	if cast, ok := resolved.FetchContext.(fetchcontext.FetchContext); ok {
		fc = cast
	}

	bytes, err := d.client.Download(ctx, resolved.URL, fc)
	if err != nil {
		return mxerr.Wrapf(mxerr.Network, err, "downloading page %s", resolved.URL)
	}

	if err := os.WriteFile(tempPath, bytes, 0o644); err != nil {
		return errors.Wrapf(err, "writing page %s", tempPath)
	}
	return nil
}

func (d *Downloader) sleepDownloadDelay(ctx context.Context) {
	if d.snapshot.DownloadDelay <= 0 {
		return
	}
	timer := time.NewTimer(d.snapshot.DownloadDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// directFetcher adapts HTTPClient.Download (always the Direct resolver)
// to lazylink.Fetcher, since lazy-link evaluation must bypass whatever
// resolver is configured for plugin resolution, matching
// evaluate_lazy_ops's fresh BasicRequestResolver client.
type directFetcher struct {
	client HTTPClient
}

func (f directFetcher) Fetch(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	return f.client.Download(ctx, rawURL, fc)
}

// promote moves the book's temp directory into place as its download
// directory, but only if the download directory does not already exist
// — matching download_book's "if !folders.download.exists()" guard,
// which is what makes a resumed, already-promoted book a no-op. tempRoot
// bounds the cleanup sweep of now-empty plugin-level temp directories
// that promoting the last book under a plugin leaves behind.
func promote(folders bookFolders, tempRoot string) error {
	if fileExists(folders.download) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(folders.download), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(folders.download))
	}
	if !fileExists(folders.temp) {
		return nil
	}
	if err := fileutils.MoveDir(folders.temp, folders.download); err != nil {
		return errors.Wrapf(err, "promoting %s to %s", folders.temp, folders.download)
	}
	if err := fileutils.CleanupEmptyParentDirectories(filepath.Dir(folders.temp), tempRoot); err != nil {
		return errors.Wrapf(err, "cleaning up %s", filepath.Dir(folders.temp))
	}
	return nil
}

func writeMetadataFile(path string, book *mxmodel.Book) error {
	record := mxmodel.MetadataRecord{
		Engine: "mx-scraper " + version.Version,
		Date:   time.Now().Format(time.RFC3339),
		Book:   *book,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing metadata record")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing metadata file %s", path)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
