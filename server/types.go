package server

import (
	"time"

	"github.com/teranos/recwake/pulse/schedule"
)

// Connection limits for the job update stream
const (
	// MaxClients caps concurrent websocket subscribers
	MaxClients = 16

	// MaxClientMessageQueueSize is the per-client outbound buffer; a client
	// that falls this far behind misses updates
	MaxClientMessageQueueSize = 32
)

// ScheduleRequest is the body of POST /api/job.
type ScheduleRequest struct {
	ScheduledStartTime time.Time `json:"scheduled_start_time"`
	DurationSeconds    int       `json:"duration_seconds"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string   `json:"error"`
	Kind  string   `json:"kind"`
	Hints []string `json:"hints,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Clients int    `json:"clients"`
}

// WakeResponse acknowledges POST /api/wake/{jobID}.
type WakeResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// RecordingsResponse is the body of GET /api/recordings.
type RecordingsResponse struct {
	Recordings []schedule.Recording `json:"recordings"`
	Count      int                  `json:"count"`
}

// JobUpdateMessage is pushed to websocket subscribers on every persisted
// transition, and once on connect with the current job (nil if none).
type JobUpdateMessage struct {
	Type      string        `json:"type"` // "job_update"
	Job       *schedule.Job `json:"job"`
	Timestamp int64         `json:"timestamp"`
}

const messageTypeJobUpdate = "job_update"
