package server

import (
	"net/http"
	"strconv"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/version"
)

// maxRecordingsLimit bounds GET /api/recordings?limit=
const maxRecordingsLimit = 1000

// handleSchedule creates and arms a job. 201 with the armed job.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.ctrl.Schedule(r.Context(), req.ScheduledStartTime, req.DurationSeconds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, job)
}

// handleStatus returns the persisted job; 404 when none was ever scheduled.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job == nil {
		s.writeError(w, r, errors.Wrap(errors.ErrNotFound, "no recording has been scheduled"))
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.ctrl.Cancel(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	job, err := s.ctrl.Stop(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

// handleWake is the platform wake callback. The fire is queued on the
// controller; whether it starts a capture is reported through job state.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	if jobID == "" {
		s.writeError(w, r, errors.Wrap(errors.ErrInvalidRequest, "missing job id"))
		return
	}
	logger.AddWakeSymbol(s.logger).Infow("Wake callback received",
		append(logger.FieldsFromContext(r.Context()), logger.FieldJobID, jobID)...)
	s.ctrl.Fire(jobID)
	_ = writeJSON(w, http.StatusAccepted, WakeResponse{JobID: jobID, Status: "accepted"})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit := schedule.DefaultRecordingsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRecordingsLimit {
			s.writeError(w, r, errors.Wrapf(errors.ErrInvalidRequest, "limit must be 1..%d, got %q", maxRecordingsLimit, v))
			return
		}
		limit = n
	}

	recs := []schedule.Recording{}
	if s.recordings != nil {
		list, err := s.recordings.List(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if list != nil {
			recs = list
		}
	}
	_ = writeJSON(w, http.StatusOK, RecordingsResponse{Recordings: recs, Count: len(recs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	s.mu.RLock()
	n := len(s.clients)
	s.mu.RUnlock()
	_ = writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: info.Version,
		Commit:  info.Short(),
		Clients: n,
	})
}
