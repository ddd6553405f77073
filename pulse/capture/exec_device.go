package capture

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/recwake/errors"
)

// DefaultCaptureCommand records raw PCM from ALSA to stdout.
const DefaultCaptureCommand = "arecord -q -D {device} -f S16_LE -r {rate} -c {channels} -t raw"

// ExecDeviceConfig configures an ExecDevice
type ExecDeviceConfig struct {
	// Command is a shell-quoted argv template. {device}, {rate} and
	// {channels} are substituted per argument.
	Command string
	Device  string
	Format  Format
	// StartupProbe is how long Open waits for the command to fail before
	// declaring the stream live. Device-busy errors surface in this window.
	StartupProbe time.Duration
	// ChunkSize is the read size; defaults to 100ms of audio.
	ChunkSize int
}

// ExecDevice captures by running an external recorder that writes raw PCM
// to stdout.
type ExecDevice struct {
	argv      []string
	device    string
	probe     time.Duration
	chunkSize int
}

// NewExecDevice parses and expands the command template.
func NewExecDevice(cfg ExecDeviceConfig) (*ExecDevice, error) {
	tmpl, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse capture command %q", cfg.Command)
	}
	if len(tmpl) == 0 {
		return nil, errors.New("capture command is empty")
	}
	if cfg.Format == (Format{}) {
		cfg.Format = DefaultFormat()
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	if cfg.StartupProbe <= 0 {
		cfg.StartupProbe = 300 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = cfg.Format.BytesPerSecond() / 10
	}

	repl := strings.NewReplacer(
		"{device}", cfg.Device,
		"{rate}", strconv.Itoa(cfg.Format.SampleRate),
		"{channels}", strconv.Itoa(cfg.Format.Channels),
	)
	argv := make([]string, len(tmpl))
	for i, a := range tmpl {
		argv[i] = repl.Replace(a)
	}

	return &ExecDevice{argv: argv, device: cfg.Device, probe: cfg.StartupProbe, chunkSize: cfg.ChunkSize}, nil
}

// Name identifies the device in logs and the recordings index
func (d *ExecDevice) Name() string {
	return d.argv[0] + ":" + d.device
}

// Argv returns the expanded command line
func (d *ExecDevice) Argv() []string {
	return append([]string(nil), d.argv...)
}

// Open starts the recorder and waits out the startup probe.
func (d *ExecDevice) Open(ctx context.Context) (Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create capture pipe")
	}

	stderr := &limitedBuffer{limit: 4096}
	cmd := exec.Command(d.argv[0], d.argv[1:]...)
	cmd.Stdout = w
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, errors.Mark(
			errors.WithHint(errors.Wrapf(err, "failed to start %s", d.argv[0]),
				"install the capture tool or set capture.command; capture.backend = \"tone\" records a test tone"),
			ErrUnavailable)
	}
	// the child holds its own copy; ours must close so EOF arrives on exit
	w.Close()

	s := &execStream{cmd: cmd, out: r, stderr: stderr, chunk: d.chunkSize, exited: make(chan struct{})}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	timer := time.NewTimer(d.probe)
	defer timer.Stop()
	select {
	case <-s.exited:
		r.Close()
		return nil, classifyExit(d.argv[0], s.waitErr, stderr.String())
	case <-ctx.Done():
		s.Close()
		return nil, errors.Mark(errors.Wrap(ctx.Err(), "capture open cancelled"), ErrUnavailable)
	case <-timer.C:
		return s, nil
	}
}

// classifyExit maps an early recorder exit to ErrBusy or ErrUnavailable.
func classifyExit(name string, waitErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	err := errors.Newf("%s exited during startup: %v", name, waitErr)
	if msg != "" {
		err = errors.WithDetail(err, msg)
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "busy") || strings.Contains(lower, "resource temporarily unavailable") {
		return errors.Mark(err, ErrBusy)
	}
	return errors.Mark(err, ErrUnavailable)
}

type execStream struct {
	cmd     *exec.Cmd
	out     *os.File
	stderr  *limitedBuffer
	chunk   int
	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closing   bool
	mu        sync.Mutex
}

func (s *execStream) ReadChunk() ([]byte, error) {
	buf := make([]byte, s.chunk)
	n, err := s.out.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return nil, io.EOF
	}
	if err != io.EOF {
		return nil, errors.Wrap(err, "failed to read capture stream")
	}
	// recorder ended on its own: wait for status so the error says why
	<-s.exited
	if s.waitErr != nil {
		return nil, errors.WithDetail(
			errors.Wrap(s.waitErr, "capture process exited"),
			strings.TrimSpace(s.stderr.String()))
	}
	return nil, io.EOF
}

// Close interrupts the recorder, giving it a moment to exit before a kill.
func (s *execStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			if err := s.cmd.Process.Signal(syscall.SIGINT); err != nil {
				_ = s.cmd.Process.Kill()
			}
			select {
			case <-s.exited:
			case <-time.After(2 * time.Second):
				_ = s.cmd.Process.Kill()
				<-s.exited
			}
		}
		s.out.Close()
	})
	return nil
}

// limitedBuffer keeps the first limit bytes of stderr.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
