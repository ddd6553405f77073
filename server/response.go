package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError classifies err and writes an ErrorResponse. Server-side
// failures are logged with the request's context fields.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorw("Request failed",
			append(logger.FieldsFromContext(r.Context()),
				"method", r.Method,
				logger.FieldPath, r.URL.Path,
				logger.FieldError, err)...)
	}
	_ = writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Kind:  kind,
		Hints: errors.GetAllHints(err),
	})
}

// readJSON decodes a JSON request body. Unknown fields are rejected.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid request body"), errors.ErrInvalidRequest)
	}
	return nil
}
