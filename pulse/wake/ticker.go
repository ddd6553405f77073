package wake

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recwake/logger"
)

// Ticker is the in-process wake backend. It polls the wall clock rather
// than sleeping until the deadline: a monotonic timer stops counting while
// the machine is suspended, so a fire due during suspend would arrive late
// by the suspend length. Polling delivers it on the first tick after resume.
type Ticker struct {
	fire     FireFunc
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger
}

// TickerConfig contains configuration for the wake ticker
type TickerConfig struct {
	Interval time.Duration // how often the wall clock is checked (default: 500ms)
	Now      func() time.Time
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 500 * time.Millisecond}
}

// NewTicker creates a wake ticker
func NewTicker(cfg TickerConfig, fire FireFunc, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), cfg, fire, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, cfg TickerConfig, fire FireFunc, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Logger
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		fire:     fire,
		interval: cfg.Interval,
		now:      cfg.Now,
		entries:  make(map[string]time.Time),
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   log,
		pulseLog: logger.AddWakeSymbol(log),
	}
}

// Start begins the polling loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Wake ticker started", "interval", t.interval)
}

// Stop halts polling. Armed entries are dropped; the job store keeps the
// arming and reconciliation re-arms it on next start.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Wake ticker stopped")
}

// Arm registers or replaces the trigger for jobID
func (t *Ticker) Arm(ctx context.Context, fireAt time.Time, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.entries[jobID] = fireAt
	t.mu.Unlock()

	t.pulseLog.Infow("Wake armed",
		logger.FieldJobID, jobID,
		"fire_at", fireAt.Format(time.RFC3339),
		"in", time.Until(fireAt).Round(time.Second))
	return nil
}

// Cancel removes the trigger for jobID if it has not fired yet
func (t *Ticker) Cancel(ctx context.Context, jobID string) error {
	t.mu.Lock()
	_, ok := t.entries[jobID]
	delete(t.entries, jobID)
	t.mu.Unlock()

	if ok {
		t.pulseLog.Infow("Wake cancelled", logger.FieldJobID, jobID)
	}
	return nil
}

// Pending returns the fire time of an armed entry
func (t *Ticker) Pending(jobID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.entries[jobID]
	return at, ok
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.deliverDue(t.now())
		}
	}
}

// deliverDue removes due entries under the lock and fires them outside it,
// so each arming fires exactly once even if fire re-arms.
func (t *Ticker) deliverDue(now time.Time) {
	var due []string
	t.mu.Lock()
	for id, at := range t.entries {
		if !at.After(now) {
			due = append(due, id)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, id := range due {
		t.pulseLog.Infow("Wake fired", logger.FieldJobID, id)
		if t.fire != nil {
			t.fire(id)
		}
	}
}
