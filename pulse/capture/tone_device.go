package capture

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

// ToneDevice generates a 440 Hz sine paced at real time. It stands in for
// a microphone on machines without a capture tool.
type ToneDevice struct {
	Format    Format
	Frequency float64
	// Chunk is the interval covered by one ReadChunk.
	Chunk time.Duration
}

// NewToneDevice returns a 440 Hz tone in the given format.
func NewToneDevice(f Format) *ToneDevice {
	if f == (Format{}) {
		f = DefaultFormat()
	}
	return &ToneDevice{Format: f, Frequency: 440, Chunk: 100 * time.Millisecond}
}

func (d *ToneDevice) Name() string { return "tone" }

func (d *ToneDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := int(int64(d.Format.SampleRate) * int64(d.Chunk) / int64(time.Second))
	if frames < 1 {
		frames = 1
	}
	return &toneStream{
		dev:    d,
		frames: frames,
		ticker: time.NewTicker(d.Chunk),
		done:   make(chan struct{}),
	}, nil
}

type toneStream struct {
	dev    *ToneDevice
	frames int
	pos    int64
	ticker *time.Ticker

	once sync.Once
	done chan struct{}
}

func (s *toneStream) ReadChunk() ([]byte, error) {
	select {
	case <-s.done:
		return nil, io.EOF
	case <-s.ticker.C:
	}

	f := s.dev.Format
	buf := make([]byte, s.frames*f.BlockAlign())
	step := 2 * math.Pi * s.dev.Frequency / float64(f.SampleRate)
	off := 0
	for i := 0; i < s.frames; i++ {
		v := int16(math.Sin(step*float64(s.pos)) * 0.3 * math.MaxInt16)
		s.pos++
		for c := 0; c < f.Channels; c++ {
			binary.LittleEndian.PutUint16(buf[off:], uint16(v))
			off += 2
		}
	}
	return buf, nil
}

func (s *toneStream) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
