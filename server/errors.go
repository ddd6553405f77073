package server

import (
	"net/http"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/session"
)

// Error kinds on the wire. Request rejections reuse the job's ErrorKind
// names so a client sees one vocabulary.
const (
	KindInvalidDuration    = string(schedule.ErrorInvalidDuration)
	KindInvalidStartTime   = string(schedule.ErrorInvalidStartTime)
	KindAlreadyActive      = string(schedule.ErrorAlreadyActive)
	KindStorageWriteFailed = string(schedule.ErrorStorageWriteFailed)
	KindNothingToCancel    = "NothingToCancel"
	KindNotRunning         = "NotRunning"
	KindArmFailed          = "ArmFailed"
	KindNotStarted         = "NotStarted"
	KindNotFound           = "NotFound"
	KindInvalidRequest     = "InvalidRequest"
	KindInternal           = "Internal"
)

// errorKinds maps sentinels to status and kind. Order matters: the first
// match wins.
var errorKinds = []struct {
	sentinel error
	status   int
	kind     string
}{
	{session.ErrInvalidDuration, http.StatusBadRequest, KindInvalidDuration},
	{session.ErrInvalidStartTime, http.StatusBadRequest, KindInvalidStartTime},
	{session.ErrAlreadyActive, http.StatusConflict, KindAlreadyActive},
	{session.ErrNothingToCancel, http.StatusConflict, KindNothingToCancel},
	{session.ErrNotRunning, http.StatusConflict, KindNotRunning},
	{session.ErrArmFailed, http.StatusServiceUnavailable, KindArmFailed},
	{session.ErrNotStarted, http.StatusServiceUnavailable, KindNotStarted},
	{schedule.ErrStoreWrite, http.StatusInternalServerError, KindStorageWriteFailed},
	{errors.ErrNotFound, http.StatusNotFound, KindNotFound},
	{errors.ErrInvalidRequest, http.StatusBadRequest, KindInvalidRequest},
}

// errorStatus classifies err for the response.
func errorStatus(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, KindInternal
}

// sentinelForKind is the inverse of errorStatus, used by Client.
func sentinelForKind(kind string) error {
	for _, k := range errorKinds {
		if k.kind == kind {
			return k.sentinel
		}
	}
	return nil
}
