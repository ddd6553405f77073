package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/internal/fsutil"
)

// FileStore keeps the job as a JSON document, replaced by atomic rename.
// Used where a SQLite database is not wanted (database.job_store = "file").
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the current job or (nil, nil) if the file does not exist.
func (s *FileStore) Get(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job file %s", s.path)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to parse job file %s", s.path),
			"the file is replaced atomically, so a parse error means it was edited by hand",
		)
	}
	return &job, nil
}

// Put atomically replaces the job file.
func (s *FileStore) Put(ctx context.Context, job *Job) error {
	if err := job.Check(); err != nil {
		return errors.Mark(errors.Wrap(err, "refusing to persist inconsistent job"), ErrStoreWrite)
	}
	if err := ctx.Err(); err != nil {
		return errors.Mark(err, ErrStoreWrite)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to encode job"), ErrStoreWrite)
	}
	if _, err := fsutil.WriteAtomic(s.path, bytes.NewReader(data), 0o600); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to persist job %s", job.ID), ErrStoreWrite)
	}
	return nil
}
