package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/recwake/errors"
)

// Recording is one finished output file.
type Recording struct {
	ID              int64     `json:"id" yaml:"id"`
	JobID           string    `json:"job_id" yaml:"job_id"`
	Path            string    `json:"path" yaml:"path"`
	StartedAt       time.Time `json:"started_at" yaml:"started_at"`
	DurationSeconds int       `json:"duration_seconds" yaml:"duration_seconds"`
	Bytes           int64     `json:"bytes" yaml:"bytes"`
	Device          string    `json:"device,omitempty" yaml:"device,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
}

// DefaultRecordingsLimit is the page size of List when limit <= 0
const DefaultRecordingsLimit = 10

// RecordingStore indexes finished recordings for `recwake ls`.
type RecordingStore struct {
	db *sql.DB
}

// NewRecordingStore creates a recordings index over a migrated database
func NewRecordingStore(db *sql.DB) *RecordingStore {
	return &RecordingStore{db: db}
}

// Add appends a finished recording and fills in its ID.
func (s *RecordingStore) Add(ctx context.Context, r *Recording) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = timeNow()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (job_id, path, started_at, duration_seconds, bytes, device, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Path,
		r.StartedAt.UTC().Format(timeLayout),
		r.DurationSeconds, r.Bytes, r.Device,
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to index recording %s", r.Path)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return errors.Wrap(err, "failed to read recording id")
	}
	return nil
}

// List returns up to limit recordings, newest first.
func (s *RecordingStore) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = DefaultRecordingsLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, path, started_at, duration_seconds, bytes, device, created_at
		FROM recordings
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recordings")
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var (
			r                  Recording
			started, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.Path, &started, &r.DurationSeconds, &r.Bytes, &r.Device, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan recording")
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, errors.Wrapf(err, "failed to parse started_at for recording %d", r.ID)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for recording %d", r.ID)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate recordings")
}
