// Package capture owns the audio input: devices that produce PCM, the
// guard that gives one session exclusive use of the input, and the WAV
// spool and sink that turn captured PCM into a durable file.
package capture

import (
	"context"
	"time"

	"github.com/teranos/recwake/errors"
)

// Stream yields raw PCM. ReadChunk returns io.EOF when the source ends.
type Stream interface {
	ReadChunk() ([]byte, error)
	Close() error
}

// Device opens capture streams.
type Device interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// Acquisition failures. Errors returned by Guard.Acquire and Device.Open
// are marked with one of these; test with errors.Is.
var (
	// ErrBusy means another holder currently has the input. Retrying later
	// may succeed.
	ErrBusy = errors.New("capture device busy")
	// ErrUnavailable means the input cannot be opened at all: missing
	// tool, missing device, permission denied.
	ErrUnavailable = errors.New("capture device unavailable")
)

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is CD-rate 16-bit mono.
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}
}

// BlockAlign is the size of one frame in bytes.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond is the data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// DurationOf converts a PCM byte count to playback time.
func (f Format) DurationOf(n int64) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps == 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / bps)
}

// Backends accepted by NewDevice.
const (
	BackendExec = "exec"
	BackendTone = "tone"
)

// NewDevice builds the device for a configured backend.
func NewDevice(backend string, cfg ExecDeviceConfig) (Device, error) {
	switch backend {
	case BackendExec, "":
		return NewExecDevice(cfg)
	case BackendTone:
		return NewToneDevice(cfg.Format), nil
	default:
		return nil, errors.Newf("unknown capture backend %q", backend)
	}
}
