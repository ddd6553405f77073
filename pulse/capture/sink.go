package capture

import (
	"io"
	"os"
	"path/filepath"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/internal/fsutil"
)

// Sink persists a finished recording. A nil error means the bytes are
// durable under path.
type Sink interface {
	WriteFile(path string, r io.Reader) error
}

// FileSink writes through a temp file, fsyncs, renames, then fsyncs the
// directory.
type FileSink struct {
	Perm os.FileMode
}

func (s FileSink) WriteFile(path string, r io.Reader) error {
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create recordings directory %s", filepath.Dir(path))
	}
	if _, err := fsutil.WriteAtomic(path, r, perm); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
