package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.RecordOutcome("completed", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.sessions.WithLabelValues("completed", "")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.sessions.WithLabelValues("completed", "")))
}

func TestSetStateIsOneHot(t *testing.T) {
	c := NewCollector()
	c.SetState("armed")
	c.SetState("running")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobState.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobState.WithLabelValues("armed")))
}

func TestRecorders(t *testing.T) {
	c := NewCollector()
	c.RecordAcquire("busy")
	c.RecordAcquire("busy")
	c.RecordAcquire("ok")
	c.RecordCaptured(60)
	c.RecordLateness(-1)
	c.AddBytes(1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.acquireAttempts.WithLabelValues("busy")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.capturedBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(c.capturedSeconds))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordOutcome("failed", "ResourceBusy")
		c.RecordAcquire("ok")
		c.RecordCaptured(1)
		c.RecordLateness(1)
		c.AddBytes(1)
		c.SetState("idle")
	})
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.RecordOutcome("failed", "MissedSchedule")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `recwake_sessions_total{error="MissedSchedule",outcome="failed"} 1`)
	assert.Contains(t, string(body), "recwake_job_state")
}
