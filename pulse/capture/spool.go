package capture

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/teranos/recwake/errors"
)

// SpoolSuffix marks in-progress capture files next to their final output.
const SpoolSuffix = ".partial"

// SpoolPath returns the spool location for an output path.
func SpoolPath(outputPath string) string {
	return outputPath + SpoolSuffix
}

// Spool accumulates PCM during a session. The header carries zero sizes
// until Finalize or RepairSpool patches it.
type Spool struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	format  Format
	written int64
	closed  bool
}

// CreateSpool creates <outputPath>.partial with a placeholder header.
func CreateSpool(outputPath string, format Format) (*Spool, error) {
	path := SpoolPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create recordings directory %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create spool %s", path)
	}
	if _, err := f.Write(WAVHeader(format, 0)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "failed to write spool header %s", path)
	}
	return &Spool{f: f, path: path, format: format}, nil
}

// Write appends PCM.
func (s *Spool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.Newf("spool %s is closed", s.path)
	}
	n, err := s.f.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, errors.Wrapf(err, "failed to write spool %s", s.path)
	}
	return n, nil
}

// Written is the PCM byte count so far.
func (s *Spool) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Spool) Path() string { return s.path }

func (s *Spool) Format() Format { return s.format }

func (s *Spool) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func (s *Spool) dataLen() uint32 {
	// whole frames only; a torn trailing sample is dropped
	n := s.written - s.written%int64(s.format.BlockAlign())
	if n > math.MaxUint32-36 {
		n = math.MaxUint32 - 36
	}
	return uint32(n)
}

// Finalize patches the header, streams the spool into the sink at
// outputPath and removes the spool. Returns the bytes written to the sink.
// On error the spool stays on disk with a patched header.
func (s *Spool) Finalize(sink Sink, outputPath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataLen := s.dataLen()
	if !s.closed {
		if err := PatchHeader(s.f, dataLen); err != nil {
			return 0, err
		}
		if err := s.f.Sync(); err != nil {
			return 0, errors.Wrapf(err, "failed to sync spool %s", s.path)
		}
		if err := s.close(); err != nil {
			return 0, errors.Wrapf(err, "failed to close spool %s", s.path)
		}
	}

	in, err := os.Open(s.path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to reopen spool %s", s.path)
	}
	defer in.Close()

	total := int64(WAVHeaderSize) + int64(dataLen)
	if err := sink.WriteFile(outputPath, io.LimitReader(in, total)); err != nil {
		return 0, err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return total, errors.Wrapf(err, "failed to remove spool %s", s.path)
	}
	return total, nil
}

// Retain closes the spool with a patched header and keeps it on disk.
func (s *Spool) Retain() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.path, nil
	}
	err := PatchHeader(s.f, s.dataLen())
	if syncErr := s.f.Sync(); err == nil && syncErr != nil {
		err = errors.Wrapf(syncErr, "failed to sync spool %s", s.path)
	}
	if closeErr := s.close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close spool %s", s.path)
	}
	return s.path, err
}

// Discard closes and deletes the spool.
func (s *Spool) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove spool %s", s.path)
	}
	return nil
}

// RepairSpool patches the header of a spool left behind by a crashed
// session so players see its true length. Returns the PCM byte count.
func RepairSpool(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open spool %s", path)
	}
	defer f.Close()

	format, _, err := ReadHeader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "spool %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat spool %s", path)
	}
	n := info.Size() - WAVHeaderSize
	if align := int64(format.BlockAlign()); align > 0 {
		n -= n % align
	}
	if n < 0 {
		n = 0
	}
	if n > math.MaxUint32-36 {
		n = math.MaxUint32 - 36
	}
	if err := PatchHeader(f, uint32(n)); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, errors.Wrapf(err, "failed to sync spool %s", path)
	}
	return n, nil
}
