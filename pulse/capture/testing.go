package capture

import (
	"context"
	"io"
	"sync"
)

// FakeDevice is a scriptable Device for tests. Chunks are served from a
// channel; closing Feed (via End) yields io.EOF, Fail injects an error.
type FakeDevice struct {
	// OpenErr is returned by Open when set.
	OpenErr error

	mu     sync.Mutex
	opens  int
	stream *FakeStream
}

func (d *FakeDevice) Name() string { return "fake" }

func (d *FakeDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.stream = &FakeStream{feed: make(chan fakeChunk, 64), done: make(chan struct{})}
	return d.stream, nil
}

// SetOpenErr changes the Open result between attempts.
func (d *FakeDevice) SetOpenErr(err error) {
	d.mu.Lock()
	d.OpenErr = err
	d.mu.Unlock()
}

// Opens counts Open calls.
func (d *FakeDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stream returns the most recently opened stream.
func (d *FakeDevice) Stream() *FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

type fakeChunk struct {
	data []byte
	err  error
}

// FakeStream is the stream handed out by FakeDevice.
type FakeStream struct {
	feed   chan fakeChunk
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// Push queues PCM for the reader.
func (s *FakeStream) Push(b []byte) { s.feed <- fakeChunk{data: b} }

// Fail makes the next read return err.
func (s *FakeStream) Fail(err error) { s.feed <- fakeChunk{err: err} }

// End makes the next read return io.EOF, as if the device vanished.
func (s *FakeStream) End() { s.feed <- fakeChunk{err: io.EOF} }

func (s *FakeStream) ReadChunk() ([]byte, error) {
	select {
	case <-s.done:
		return nil, io.EOF
	case c := <-s.feed:
		return c.data, c.err
	}
}

func (s *FakeStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Closed reports whether Close ran.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
