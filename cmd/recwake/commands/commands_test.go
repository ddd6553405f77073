package commands

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/session"
)

func TestParseStart(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	now := time.Date(2026, 10, 19, 14, 30, 0, 0, loc)

	tests := []struct {
		name    string
		at      string
		in      time.Duration
		want    time.Time
		wantErr error
	}{
		{"later today", "16:00", 0, time.Date(2026, 10, 19, 16, 0, 0, 0, loc), nil},
		{"earlier means tomorrow", "07:30", 0, time.Date(2026, 10, 20, 7, 30, 0, 0, loc), nil},
		{"exactly now means tomorrow", "14:30", 0, time.Date(2026, 10, 20, 14, 30, 0, 0, loc), nil},
		{"with seconds", "14:30:15", 0, time.Date(2026, 10, 19, 14, 30, 15, 0, loc), nil},
		{"rfc3339", "2026-10-21T09:00:00Z", 0, time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC), nil},
		{"relative", "", 90 * time.Second, now.Add(90 * time.Second), nil},
		{"both", "16:00", time.Minute, time.Time{}, errors.ErrInvalidRequest},
		{"neither", "", 0, time.Time{}, errors.ErrInvalidRequest},
		{"negative delay", "", -time.Second, time.Time{}, session.ErrInvalidStartTime},
		{"garbage", "tomorrow-ish", 0, time.Time{}, session.ErrInvalidStartTime},
		{"out of range clock", "25:00", 0, time.Time{}, session.ErrInvalidStartTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStart(tt.at, tt.in, now)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestDurationSeconds(t *testing.T) {
	n, err := durationSeconds(45 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2700, n)

	_, err = durationSeconds(1500 * time.Millisecond)
	assert.True(t, errors.Is(err, session.ErrInvalidDuration))
}

func sampleJob() *schedule.Job {
	start := time.Date(2026, 10, 19, 7, 30, 0, 0, time.UTC)
	return &schedule.Job{
		ID:                 "7f3c",
		ScheduledStartTime: start,
		DurationSeconds:    60,
		State:              schedule.StateFailed,
		LastError:          schedule.ErrorResourceBusy,
		LastErrorDetail:    "device or resource busy",
		CreatedAt:          start.Add(-time.Hour),
		UpdatedAt:          start,
	}
}

func TestPrintJobFormats(t *testing.T) {
	job := sampleJob()

	var buf bytes.Buffer
	require.NoError(t, printJob(&buf, job, formatJSON))
	var fromJSON schedule.Job
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, job.ID, fromJSON.ID)
	assert.Equal(t, schedule.ErrorResourceBusy, fromJSON.LastError)

	buf.Reset()
	require.NoError(t, printJob(&buf, job, formatYAML))
	var fromYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "failed", fromYAML["state"])
	assert.Equal(t, "ResourceBusy", fromYAML["last_error"])

	buf.Reset()
	require.NoError(t, printJob(&buf, job, formatText))
	assert.Contains(t, buf.String(), "7f3c")
	assert.Contains(t, buf.String(), "device or resource busy")

	buf.Reset()
	assert.Error(t, printJob(&buf, job, "xml"))
}

func TestPrintJobNil(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJob(&buf, nil, formatText))
	assert.Contains(t, buf.String(), "No recording scheduled")

	buf.Reset()
	require.NoError(t, printJob(&buf, nil, formatJSON))
	assert.Equal(t, "null\n", buf.String())
}

func TestPrintRecordings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRecordings(&buf, nil, formatJSON))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, printRecordings(&buf, nil, formatText))
	assert.Contains(t, buf.String(), "No recordings yet")

	buf.Reset()
	recs := []schedule.Recording{{
		ID: 1, JobID: "a", Path: "/home/u/VoiceRecordings/recording_20261019_073000.wav",
		StartedAt: time.Now(), DurationSeconds: 60, Bytes: 5292044,
	}}
	require.NoError(t, printRecordings(&buf, recs, formatText))
	assert.Contains(t, buf.String(), "recording_20261019_073000.wav")
	assert.Contains(t, buf.String(), "5.0 MiB")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(1536*1024))
}

func TestReportOutcome(t *testing.T) {
	assert.NoError(t, reportOutcome(nil))

	done := sampleJob()
	done.State = schedule.StateCompleted
	done.LastError = schedule.ErrorNone
	done.OutputPath = "/tmp/out.wav"
	assert.NoError(t, reportOutcome(done))

	failed := sampleJob()
	failed.PartialPath = "/tmp/out.wav.partial"
	err := reportOutcome(failed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ResourceBusy")
	assert.Contains(t, errors.GetAllHints(err), "partial audio kept at /tmp/out.wav.partial")
}
