package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/recwake/errors"
)

// Store persists the single recording job. Put replaces the whole record
// atomically: a reader sees either the previous or the new record, never a
// mix, and a returned nil means the record survives a crash.
type Store interface {
	// Get returns the current job, or (nil, nil) if none was ever scheduled.
	Get(ctx context.Context) (*Job, error)
	Put(ctx context.Context, job *Job) error
}

// ErrStoreWrite marks every Put failure so callers can classify it as
// StorageWriteFailed regardless of backend.
var ErrStoreWrite = errors.New("job store write failed")

// timeLayout is fixed-width RFC3339 with nanoseconds, always written in
// UTC, so stored values sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteLayout is what CURRENT_TIMESTAMP defaults produce.
const sqliteLayout = "2006-01-02 15:04:05"

// timeNow stamps CreatedAt/UpdatedAt.
var timeNow = time.Now

// SQLStore keeps the job in the recording_job table, pinned to slot 1.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over a migrated database
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const upsertJob = `
	INSERT INTO recording_job (
		slot, id, scheduled_start_time, duration_seconds, state,
		output_path, partial_path, started_at_actual, completed_at,
		last_error, last_error_detail, owner_pid, created_at, updated_at
	) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(slot) DO UPDATE SET
		id = excluded.id,
		scheduled_start_time = excluded.scheduled_start_time,
		duration_seconds = excluded.duration_seconds,
		state = excluded.state,
		output_path = excluded.output_path,
		partial_path = excluded.partial_path,
		started_at_actual = excluded.started_at_actual,
		completed_at = excluded.completed_at,
		last_error = excluded.last_error,
		last_error_detail = excluded.last_error_detail,
		owner_pid = excluded.owner_pid,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
`

// Put replaces the stored job in a single statement.
func (s *SQLStore) Put(ctx context.Context, job *Job) error {
	if err := job.Check(); err != nil {
		return errors.Mark(errors.Wrap(err, "refusing to persist inconsistent job"), ErrStoreWrite)
	}

	now := timeNow()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, upsertJob,
		job.ID,
		job.ScheduledStartTime.UTC().Format(timeLayout),
		job.DurationSeconds,
		string(job.State),
		nullString(job.OutputPath),
		nullString(job.PartialPath),
		nullTime(job.StartedAtActual),
		nullTime(job.CompletedAt),
		nullString(string(job.LastError)),
		nullString(job.LastErrorDetail),
		nullInt(job.OwnerPID),
		job.CreatedAt.UTC().Format(timeLayout),
		job.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to persist job %s", job.ID), ErrStoreWrite)
	}
	return nil
}

// Get returns the current job or (nil, nil).
func (s *SQLStore) Get(ctx context.Context) (*Job, error) {
	var (
		job                                         Job
		state, scheduled, created, updated          string
		outputPath, partialPath, started, completed sql.NullString
		lastError, lastErrorDetail                  sql.NullString
		ownerPID                                    sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, scheduled_start_time, duration_seconds, state,
		       output_path, partial_path, started_at_actual, completed_at,
		       last_error, last_error_detail, owner_pid, created_at, updated_at
		FROM recording_job
		WHERE slot = 1
	`).Scan(
		&job.ID, &scheduled, &job.DurationSeconds, &state,
		&outputPath, &partialPath, &started, &completed,
		&lastError, &lastErrorDetail, &ownerPID, &created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job")
	}

	job.State = State(state)
	job.OutputPath = outputPath.String
	job.PartialPath = partialPath.String
	job.LastError = ErrorKind(lastError.String)
	job.LastErrorDetail = lastErrorDetail.String
	job.OwnerPID = int(ownerPID.Int64)

	// a parse failure means corruption or schema drift; surface it
	if job.ScheduledStartTime, err = parseTime(scheduled); err != nil {
		return nil, errors.Wrapf(err, "failed to parse scheduled_start_time for job %s", job.ID)
	}
	if job.CreatedAt, err = parseTime(created); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}
	if job.StartedAtActual, err = parseNullTime(started); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at_actual for job %s", job.ID)
	}
	if job.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, errors.Wrapf(err, "failed to parse completed_at for job %s", job.ID)
	}
	return &job, nil
}

// parseTime accepts any fraction width. DATETIME columns come back from
// the driver as time.Time, which database/sql renders as RFC3339Nano with
// trailing zeros trimmed.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		var lerr error
		if t, lerr = time.ParseInLocation(sqliteLayout, s, time.UTC); lerr != nil {
			return time.Time{}, err
		}
	}
	return t.Local(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
