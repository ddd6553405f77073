package capture

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
)

// HolderProbe looks for another process using the capture input outside
// the lock protocol. found=false with a nil error means nobody was seen.
type HolderProbe func(ctx context.Context) (pid int, found bool, err error)

// GuardConfig configures a Guard
type GuardConfig struct {
	Device   Device
	LockPath string
	// Probe runs after the lock is taken; nil disables it.
	Probe HolderProbe
}

// Handle is exclusive use of the capture input. Obtain with Acquire,
// give back with Release.
type Handle struct {
	Stream     Stream
	Device     string
	AcquiredAt time.Time

	lock     *os.File
	released bool
}

// Guard grants at most one Handle at a time, across this process
// (in-memory flag) and across processes (flock on LockPath).
type Guard struct {
	device   Device
	lockPath string
	probe    HolderProbe

	mu   sync.Mutex
	held *Handle
	log  *zap.SugaredLogger
}

// NewGuard creates a guard for dev.
func NewGuard(cfg GuardConfig, log *zap.SugaredLogger) *Guard {
	if log == nil {
		log = logger.Logger
	}
	return &Guard{
		device:   cfg.Device,
		lockPath: cfg.LockPath,
		probe:    cfg.Probe,
		log:      logger.AddRecSymbol(log),
	}
}

// Acquire takes the input without waiting. ErrBusy when another holder
// has it, ErrUnavailable when it cannot be opened. On failure nothing
// stays held.
func (g *Guard) Acquire(ctx context.Context) (*Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held != nil {
		return nil, errors.Mark(errors.New("capture input already held by this process"), ErrBusy)
	}

	lock, err := g.lock()
	if err != nil {
		return nil, err
	}

	if g.probe != nil {
		pid, found, err := g.probe(ctx)
		switch {
		case err != nil:
			g.log.Debugw("Foreign holder probe failed", logger.FieldError, err)
		case found:
			unlock(lock)
			return nil, errors.Mark(errors.Newf("capture input in use by pid %d", pid), ErrBusy)
		}
	}

	stream, err := g.device.Open(ctx)
	if err != nil {
		unlock(lock)
		if errors.Is(err, ErrBusy) || errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to open %s", g.device.Name()), ErrUnavailable)
	}

	h := &Handle{Stream: stream, Device: g.device.Name(), AcquiredAt: time.Now(), lock: lock}
	g.held = h
	g.log.Infow("Capture input acquired", logger.FieldDevice, h.Device)
	return h, nil
}

func (g *Guard) lock() (*os.File, error) {
	if g.lockPath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(g.lockPath), 0o755); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to create lock directory"), ErrUnavailable)
	}
	f, err := os.OpenFile(g.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to open lock %s", g.lockPath), ErrUnavailable)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			msg := "capture lock held by another process"
			if pid := readPID(g.lockPath); pid > 0 {
				msg += " (pid " + strconv.Itoa(pid) + ")"
			}
			return nil, errors.Mark(errors.New(msg), ErrBusy)
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to lock %s", g.lockPath), ErrUnavailable)
	}
	// holder pid is informational
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return f, nil
}

func unlock(f *os.File) {
	if f == nil {
		return
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// Release closes the stream and drops the locks. Nil, already released
// and foreign handles are no-ops.
func (g *Guard) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if h.released {
		return nil
	}
	return g.release(h)
}

func (g *Guard) release(h *Handle) error {
	h.released = true
	var err error
	if h.Stream != nil {
		err = h.Stream.Close()
	}
	unlock(h.lock)
	if g.held == h {
		g.held = nil
	}
	g.log.Infow("Capture input released", logger.FieldDevice, h.Device)
	return errors.Wrap(err, "failed to close capture stream")
}

// ReleaseAll drops whatever this guard holds. Safe when idle.
func (g *Guard) ReleaseAll() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		return nil
	}
	return g.release(g.held)
}

// Held reports whether this guard currently holds the input.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held != nil
}

// HeldElsewhere reports whether some other holder has the lock, and its
// pid when recorded. The kernel drops a flock when its process dies, so a
// true result means the holder is alive.
func (g *Guard) HeldElsewhere() (bool, int) {
	g.mu.Lock()
	held := g.held != nil
	g.mu.Unlock()
	if held || g.lockPath == "" {
		return false, 0
	}

	f, err := os.OpenFile(g.lockPath, os.O_RDONLY, 0)
	if err != nil {
		return false, 0
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return true, readPID(g.lockPath)
		}
		return false, 0
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, 0
}

func readPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
