package session

import (
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/capture"
	"github.com/teranos/recwake/pulse/schedule"
)

// progressInterval throttles the "still recording" log line.
const progressInterval = 30 * time.Second

// activeSession is a capture in progress. Only the loop touches it, except
// for the reader goroutine which owns failKind/failErr until readerDone
// closes.
type activeSession struct {
	token     uint64
	jobID     string
	handle    *capture.Handle
	spool     *capture.Spool
	timer     *time.Timer
	monoStart time.Time

	stopping   atomic.Bool
	readerDone chan struct{}
	failKind   schedule.ErrorKind
	failErr    error
}

func newActiveSession(token uint64, jobID string, h *capture.Handle, spool *capture.Spool) *activeSession {
	return &activeSession{
		token:      token,
		jobID:      jobID,
		handle:     h,
		spool:      spool,
		monoStart:  time.Now(),
		readerDone: make(chan struct{}),
	}
}

// capture copies the stream into the spool until the loop stops it or the
// stream fails. A failure is reported back to the loop as an event.
func (c *Controller) capture(s *activeSession) {
	progress := rate.Sometimes{First: 1, Interval: progressInterval}
	log := c.recLog.With(logger.FieldJobID, s.jobID)

	for {
		chunk, err := s.handle.Stream.ReadChunk()
		if len(chunk) > 0 {
			if _, werr := s.spool.Write(chunk); werr != nil {
				if s.stopping.Load() {
					break
				}
				s.failKind, s.failErr = schedule.ErrorStorageWriteFailed, werr
				break
			}
			c.metrics.AddBytes(len(chunk))
			progress.Do(func() {
				log.Infow("Recording", logger.FieldBytes, s.spool.Written(),
					logger.FieldElapsed, time.Since(s.monoStart).Round(time.Second))
			})
		}
		if err == nil {
			continue
		}
		if s.stopping.Load() {
			break
		}
		if err == io.EOF {
			err = errors.New("capture stream ended before the countdown")
		}
		s.failKind, s.failErr = schedule.ErrorResourceRevoked, err
		break
	}

	failed := s.failErr != nil
	close(s.readerDone)
	if failed {
		go c.post(func() { c.onCaptureFailed(s) })
	}
}
