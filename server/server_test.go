package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/metrics"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/session"
)

// fakeController records calls and returns canned results.
type fakeController struct {
	mu        sync.Mutex
	job       *schedule.Job
	err       error
	fired     []string
	listeners []func(*schedule.Job)
}

func (f *fakeController) Schedule(ctx context.Context, start time.Time, dur int) (*schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.job = &schedule.Job{ID: "job-1", ScheduledStartTime: start, DurationSeconds: dur, State: schedule.StateArmed}
	return f.job.Clone(), nil
}

func (f *fakeController) Cancel(ctx context.Context) (*schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.job.State = schedule.StateCancelled
	return f.job.Clone(), nil
}

func (f *fakeController) Stop(ctx context.Context) (*schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.job.State = schedule.StateCompleted
	return f.job.Clone(), nil
}

func (f *fakeController) Status(ctx context.Context) (*schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job.Clone(), nil
}

func (f *fakeController) Fire(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, jobID)
}

func (f *fakeController) Fired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}

func (f *fakeController) OnChange(fn func(*schedule.Job)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeController) emit(job *schedule.Job) {
	f.mu.Lock()
	ls := append([]func(*schedule.Job){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(job.Clone())
	}
}

func (f *fakeController) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeRecordings struct {
	recs      []schedule.Recording
	lastLimit int
}

func (f *fakeRecordings) List(ctx context.Context, limit int) ([]schedule.Recording, error) {
	f.lastLimit = limit
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func newTestServer(t *testing.T) (*fakeController, *fakeRecordings, *httptest.Server, *Client) {
	t.Helper()
	ctrl := &fakeController{}
	recs := &fakeRecordings{}
	s := New(Config{
		Controller:     ctrl,
		Recordings:     recs,
		Metrics:        metrics.NewCollector(),
		AllowedOrigins: []string{"http://localhost"},
	}, zaptest.NewLogger(t).Sugar())

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})

	client, err := NewClient(ts.URL)
	require.NoError(t, err)
	return ctrl, recs, ts, client
}

func TestScheduleAndStatus(t *testing.T) {
	_, _, _, client := newTestServer(t)
	ctx := context.Background()

	job, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "no job before the first schedule")

	start := time.Now().Add(time.Hour).Truncate(time.Second)
	job, err = client.Schedule(ctx, start, 300)
	require.NoError(t, err)
	assert.Equal(t, schedule.StateArmed, job.State)
	assert.True(t, start.Equal(job.ScheduledStartTime))
	assert.Equal(t, 300, job.DurationSeconds)

	job, err = client.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid duration", errors.Wrap(session.ErrInvalidDuration, "0 seconds"), http.StatusBadRequest, KindInvalidDuration},
		{"invalid start", errors.Wrap(session.ErrInvalidStartTime, "past"), http.StatusBadRequest, KindInvalidStartTime},
		{"already active", errors.Wrap(session.ErrAlreadyActive, "job x is armed"), http.StatusConflict, KindAlreadyActive},
		{"arm failed", errors.Mark(errors.New("systemd-run: exit 1"), session.ErrArmFailed), http.StatusServiceUnavailable, KindArmFailed},
		{"store write", errors.Mark(errors.New("disk I/O error"), schedule.ErrStoreWrite), http.StatusInternalServerError, KindStorageWriteFailed},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestClientErrorsKeepSentinels(t *testing.T) {
	ctrl, _, _, client := newTestServer(t)
	ctx := context.Background()

	ctrl.setErr(errors.WithHint(errors.Wrap(session.ErrAlreadyActive, "job job-0 is armed"), "cancel it first"))
	_, err := client.Schedule(ctx, time.Now().Add(time.Hour), 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrAlreadyActive))
	assert.Contains(t, errors.GetAllHints(err), "cancel it first")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, KindAlreadyActive, apiErr.Kind)

	ctrl.setErr(session.ErrNothingToCancel)
	_, err = client.Cancel(ctx)
	assert.True(t, errors.Is(err, session.ErrNothingToCancel))

	ctrl.setErr(session.ErrNotRunning)
	_, err = client.Stop(ctx)
	assert.True(t, errors.Is(err, session.ErrNotRunning))
}

func TestCancelAndStop(t *testing.T) {
	_, _, _, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Schedule(ctx, time.Now().Add(time.Hour), 60)
	require.NoError(t, err)

	job, err := client.Cancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, schedule.StateCancelled, job.State)

	job, err = client.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, schedule.StateCompleted, job.State)
}

func TestMalformedBody(t *testing.T) {
	_, _, ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/job", "application/json", strings.NewReader(`{"duration_seconds": "ten"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, KindInvalidRequest, body.Kind)
}

func TestWakeCallback(t *testing.T) {
	ctrl, _, ts, client := newTestServer(t)

	require.NoError(t, client.Fire(context.Background(), "job-7"))
	assert.Equal(t, []string{"job-7"}, ctrl.Fired())

	resp, err := http.Get(ts.URL + "/api/wake/job-7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRecordings(t *testing.T) {
	_, recs, ts, client := newTestServer(t)
	now := time.Now().UTC().Truncate(time.Second)
	recs.recs = []schedule.Recording{
		{ID: 2, JobID: "b", Path: "/r/b.wav", StartedAt: now, DurationSeconds: 5},
		{ID: 1, JobID: "a", Path: "/r/a.wav", StartedAt: now.Add(-time.Hour), DurationSeconds: 3},
	}

	list, err := client.Recordings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].JobID)
	assert.Equal(t, 1, recs.lastLimit)

	list, err = client.Recordings(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, schedule.DefaultRecordingsLimit, recs.lastLimit)

	resp, err := http.Get(ts.URL + "/api/recordings?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, ts, client := newTestServer(t)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	_, _, ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/job", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	_, _, ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestWebSocketStreamsJobUpdates(t *testing.T) {
	ctrl, _, ts, client := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() JobUpdateMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg JobUpdateMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	snapshot := read()
	assert.Equal(t, "job_update", snapshot.Type)
	assert.Nil(t, snapshot.Job)

	job, err := client.Schedule(context.Background(), time.Now().Add(time.Hour), 60)
	require.NoError(t, err)
	ctrl.emit(job)

	update := read()
	require.NotNil(t, update.Job)
	assert.Equal(t, job.ID, update.Job.ID)
	assert.Equal(t, schedule.StateArmed, update.Job.State)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, _, ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNewClientRefusesRemoteAddress(t *testing.T) {
	_, err := NewClient("example.com:8787")
	assert.Error(t, err)

	c, err := NewClient("127.0.0.1:8787")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8787", c.BaseURL())
}

func TestClientDaemonDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	client, err := NewClient(addr)
	require.NoError(t, err)
	_, err = client.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsServiceUnavailableError(err))
}
