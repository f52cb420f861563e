// Package cache implements Component E: a flat on-disk cache store,
// one pretty-printed JSON file per fingerprint.
//
// Grounded on pkg/downloadcache/cache.go's fingerprint-keyed file layout
// and GetOrGenerate's "check cache, else generate, else write metadata"
// shape, generalized from a relational-file-generation cache to a
// resolved-Book cache. Serialization uses segmentio/encoding/json, the
// same faster encoding/json replacement the teacher config layer uses.
package cache

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"

	"github.com/mxscrape/mx-scraper/pkg/fingerprint"
	"github.com/mxscrape/mx-scraper/pkg/mxmodel"
)

// Cache is a flat per-fingerprint JSON file store rooted at Dir. When
// Enabled is false, Lookup always misses and Insert is a no-op, per
// spec.md §4.E's cache.enable toggle.
type Cache struct {
	Dir     string
	Enabled bool
}

// New returns a Cache rooted at dir.
func New(dir string, enabled bool) *Cache {
	return &Cache{Dir: dir, Enabled: enabled}
}

func (c *Cache) path(term, plugin string) string {
	fp := fingerprint.Fingerprint(term, plugin)
	return filepath.Join(c.Dir, fp+".json")
}

// Lookup reads and deserializes the cached Book for (term, plugin). A
// missing file is reported as (nil, false, nil) — a miss, not an error.
// A file that exists but fails to deserialize is a hard error carrying
// the path, per spec.md §4.E.
func (c *Cache) Lookup(term, plugin string) (*mxmodel.Book, bool, error) {
	if !c.Enabled {
		return nil, false, nil
	}

	path := c.path(term, plugin)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "cache: reading %s", path)
	}

	var book mxmodel.Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, false, errors.Wrapf(err, "cache: corrupt cache entry at %s", path)
	}
	return &book, true, nil
}

// Insert serializes book pretty-printed and writes it for (term, plugin).
// Writes go through a temp file and rename even though the source does
// not require atomicity here (spec.md §4.E, §9) — cheap to do in Go via
// os.CreateTemp + os.Rename and avoids ever observing a half-written
// cache entry from a concurrent Lookup.
func (c *Cache) Insert(term, plugin string, book *mxmodel.Book) error {
	if !c.Enabled {
		return nil
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return errors.Wrap(err, "cache: creating cache directory")
	}

	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cache: serializing book")
	}

	dest := c.path(term, plugin)
	tmp, err := os.CreateTemp(c.Dir, "mx-cache-*.tmp")
	if err != nil {
		return errors.Wrap(err, "cache: creating temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "cache: writing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "cache: closing temp file")
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return errors.Wrapf(err, "cache: renaming into place at %s", dest)
	}
	return nil
}
