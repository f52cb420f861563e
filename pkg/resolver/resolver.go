// Package resolver implements Component G: the batched term resolver.
// It turns an ordered list of terms into an ordered map of per-term
// results, resolving each term through a plugins.Manager in
// fixed-size, sequential chunks with concurrent resolution inside each
// chunk.
//
// Grounded on pkg/worker/worker.go's goroutine+channel+panic-recovery
// task style and original_source/src/plugins/mod.rs's fetch/auto_fetch
// cache-then-resolve delay semantics, which this package drives without
// owning (that lives in pkg/plugins.Manager).
package resolver

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mxscrape/mx-scraper/pkg/batching"
	"github.com/mxscrape/mx-scraper/pkg/mxerr"
	"github.com/mxscrape/mx-scraper/pkg/plugins"
)

// Fetcher is the subset of plugins.Manager the resolver needs, kept
// narrow for testability.
type Fetcher interface {
	Fetch(ctx context.Context, term, pluginName string) (*plugins.FetchResult, error)
	AutoFetch(ctx context.Context, term string) (*plugins.FetchResult, error)
}

// Entry is one term's outcome: exactly one of Result or Err is set.
type Entry struct {
	Result *plugins.FetchResult
	Err    error
}

// Progress is reported once per completed term, in completion order (not
// input order), so a CLI frontend can render a live counter.
type Progress struct {
	Done      int
	Total     int
	Fetched   int
	Cached    int
	Failed    int
}

// Options configures a Run call.
type Options struct {
	// BatchSize is the maximum number of terms resolved concurrently per
	// chunk; spec.md's max_size_init_crawl_batch.
	BatchSize int
	// Plugin, if non-empty, forces resolution through one named plugin
	// (Manager.Fetch) instead of auto-detection (Manager.AutoFetch).
	Plugin string
	// OnProgress, if set, is called after every term completes.
	OnProgress func(Progress)
	// PanicWriter, if set, receives a line per recovered task panic instead
	// of it going to os.Stderr directly. Tests use this to avoid noisy
	// output; production callers can leave it nil.
	PanicWriter *os.File
}

// Run dedupes terms (keeping first occurrence), partitions them into
// chunks of opts.BatchSize, and resolves each chunk concurrently before
// moving to the next. The returned slice preserves terms' first-seen
// input order regardless of completion order within a chunk; every
// deduped term has exactly one Entry, unless its task panicked, in which
// case it has no entry at all (per spec.md §4.G.5).
func Run(ctx context.Context, fetcher Fetcher, terms []string, opts Options) ([]string, map[string]Entry, error) {
	deduped := dedupe(terms)

	chunks, err := batching.Partition(deduped, opts.BatchSize)
	if err != nil {
		return nil, nil, err
	}

	results := make(map[string]Entry, len(deduped))
	var resultsMu sync.Mutex

	progress := Progress{Total: len(deduped)}
	var progressMu sync.Mutex

	for _, chunk := range chunks {
		var wg sync.WaitGroup
		wg.Add(len(chunk))

		for _, term := range chunk {
			term := term
			go func() {
				defer wg.Done()
				entry, ok := resolveOne(ctx, fetcher, term, opts)
				if !ok {
					// Panicked: per spec.md §4.G.5, this term gets no
					// entry at all.
					return
				}

				resultsMu.Lock()
				results[term] = entry
				resultsMu.Unlock()

				if opts.OnProgress != nil {
					progressMu.Lock()
					progress.Done++
					switch {
					case entry.Err != nil:
						progress.Failed++
					case entry.Result.Cached:
						progress.Cached++
					default:
						progress.Fetched++
					}
					snapshot := progress
					progressMu.Unlock()
					opts.OnProgress(snapshot)
				}
			}()
		}

		wg.Wait()
	}

	return deduped, results, nil
}

// resolveOne runs a single term's resolution with panic recovery,
// mirroring pkg/worker.processJobs's defer/recover-around-one-unit-of-
// work idiom. ok is false if the task panicked.
func resolveOne(ctx context.Context, fetcher Fetcher, term string, opts Options) (entry Entry, ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = false
			writer := opts.PanicWriter
			if writer == nil {
				writer = os.Stderr
			}
			fmt.Fprintf(writer, "resolver: term %q panicked: %v\n", term, r)
		}
	}()

	var result *plugins.FetchResult
	var err error
	if opts.Plugin != "" {
		result, err = fetcher.Fetch(ctx, term, opts.Plugin)
	} else {
		result, err = fetcher.AutoFetch(ctx, term)
	}

	if err != nil {
		if ctx.Err() != nil {
			err = mxerr.Wrapf(mxerr.Cancelled, ctx.Err(), "resolving %q", term)
		}
		return Entry{Err: err}, true
	}

	return Entry{Result: result}, true
}

// dedupe returns terms with duplicates removed, keeping the first
// occurrence's position.
func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
