// Package fsutil holds durable file helpers shared by the job file store
// and the recording sink.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/teranos/recwake/errors"
)

// WriteAtomic streams r into a temp file next to path, fsyncs it, renames
// it over path and fsyncs the directory. On success the content is durable
// under its final name; on failure path is untouched and the temp file is
// removed.
func WriteAtomic(path string, r io.Reader, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, errors.Wrapf(err, "failed to write %s", path)
	}
	if err := tmp.Chmod(perm); err != nil {
		return n, errors.Wrapf(err, "failed to chmod %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		return n, errors.Wrapf(err, "failed to sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return n, errors.Wrapf(err, "failed to close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return n, errors.Wrapf(err, "failed to rename into %s", path)
	}
	committed = true

	if err := SyncDir(dir); err != nil {
		return n, err
	}
	return n, nil
}

// SyncDir fsyncs a directory so a rename or create inside it is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to open directory %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync directory %s", dir)
	}
	return nil
}
