// Package fileutils provides the move-with-fallback and
// empty-directory-cleanup helpers Component H's temp-to-final book
// promotion is built on.
package fileutils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MoveDir moves the directory tree rooted at src to dst. It tries
// os.Rename first (instant, same-filesystem case) and falls back to a
// recursive copy-then-remove when the rename fails, which is how a
// cross-device move (temp and download roots mounted on different
// filesystems) has to be done.
func MoveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyDir(src, dst); err != nil {
		return errors.WithStack(err)
	}
	if err := os.RemoveAll(src); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

// copyFile copies a single file's contents and mode, used by copyDir's
// fallback path. It does not remove the source; MoveDir removes the
// whole tree once every file has copied successfully.
func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.WithStack(err)
	}

	source, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer source.Close()

	target, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.WithStack(err)
	}
	defer target.Close()

	if _, err := io.Copy(target, source); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// CleanupEmptyDirectory removes dirPath if it contains no entries.
// Returns false, nil if dirPath doesn't exist or isn't empty.
func CleanupEmptyDirectory(dirPath string) (bool, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dirPath); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// CleanupEmptyParentDirectories climbs from startPath towards stopAt
// (exclusive), removing each directory in turn as long as it is empty,
// stopping at the first non-empty directory or at stopAt itself. A
// promoted book leaves its plugin-level temp directory empty once the
// last book for that plugin has been promoted; this is what sweeps it
// away instead of leaving an empty shell under the temp root forever.
func CleanupEmptyParentDirectories(startPath, stopAt string) error {
	stopAt = filepath.Clean(stopAt)
	current := filepath.Clean(startPath)

	for current != stopAt && current != "." && current != string(filepath.Separator) {
		removed, err := CleanupEmptyDirectory(current)
		if err != nil {
			return err
		}
		if !removed {
			return nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}
		current = parent
	}
	return nil
}
