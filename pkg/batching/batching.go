// Package batching partitions an ordered slice into fixed-size chunks,
// the shared primitive behind Component G's init-crawl-batch chunking
// and Component H's book-batch chunking.
//
// Grounded on original_source/src/core/utils.rs::batch_a_list_of, which
// panics on a non-positive batch size. Per DESIGN.md's resolved Open
// Question on that panic, Partition instead returns a Bug-kind error —
// a zero or negative batch size is a configuration mistake, not a
// recoverable per-term condition, but it shouldn't take the whole
// process down over a typo.
package batching

import "github.com/mxscrape/mx-scraper/pkg/mxerr"

// Partition splits items into consecutive chunks of at most size,
// preserving order both within and across chunks.
func Partition[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, mxerr.Newf(mxerr.Bug, "batch size must be positive, got %d", size)
	}

	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks, nil
}
