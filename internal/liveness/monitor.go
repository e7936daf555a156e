package liveness

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Guard is fed by long-running operations to show they are making progress.
//
// Enter and Leave bracket an operation; Feed is called between its slices
// (lock poll attempts, copy chunks). Implementations must be safe for
// concurrent use.
type Guard interface {
	Enter(op string)
	Feed()
	Leave(op string)
}

// Nop is a Guard that does nothing.
type Nop struct{}

func (Nop) Enter(string) {}
func (Nop) Feed()        {}
func (Nop) Leave(string) {}

// Logger defines the logging interface for the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds monitor settings.
type Config struct {
	// Timeout is how long an entered operation may go without a Feed
	// before it is reported as stalled.
	Timeout time.Duration

	// CheckInterval is how often the watchdog loop runs.
	CheckInterval time.Duration

	// OnStall is called once per stall with the stalled operation names.
	OnStall func(ops []string, since time.Duration)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		CheckInterval: time.Second,
	}
}

// Stats is a point-in-time view of the monitor.
type Stats struct {
	Feeds  uint64
	Stalls uint64
	Active []string
}

// Monitor is a software watchdog for operations that hold the store lock.
//
// An operation that has entered and not fed the monitor within Timeout is
// logged as stalled. Nothing is aborted: copies and persistence run to
// completion and the monitor only makes a hang visible.
type Monitor struct {
	config Config
	logger Logger
	now    func() time.Time

	mu       sync.Mutex
	active   map[string]int
	lastFeed time.Time
	reported bool
	feeds    uint64
	stalls   uint64
}

// NewMonitor creates a monitor. Zero durations fall back to DefaultConfig.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &Monitor{
		config: cfg,
		logger: noopLogger{},
		now:    time.Now,
		active: make(map[string]int),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

// Enter marks op as in progress and counts as a feed.
func (m *Monitor) Enter(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[op]++
	m.feedLocked()
}

// Feed records progress.
func (m *Monitor) Feed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedLocked()
}

// Leave marks one instance of op as finished.
func (m *Monitor) Leave(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.active[op]; n > 1 {
		m.active[op] = n - 1
	} else {
		delete(m.active, op)
	}
	m.feedLocked()
}

func (m *Monitor) feedLocked() {
	m.lastFeed = m.now()
	m.feeds++
	if m.reported {
		m.reported = false
		m.logger.Info("liveness recovered")
	}
}

// Run checks for stalls every CheckInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check runs one stall check. It reports whether a new stall was detected.
func (m *Monitor) Check() bool {
	m.mu.Lock()
	if len(m.active) == 0 || m.reported {
		m.mu.Unlock()
		return false
	}
	since := m.now().Sub(m.lastFeed)
	if since <= m.config.Timeout {
		m.mu.Unlock()
		return false
	}
	m.reported = true
	m.stalls++
	ops := m.activeLocked()
	logger := m.logger
	onStall := m.config.OnStall
	m.mu.Unlock()

	logger.Warn("operation stalled",
		"operations", ops,
		"since_last_feed", since,
		"timeout", m.config.Timeout,
	)
	if onStall != nil {
		onStall(ops, since)
	}
	return true
}

// Stats returns counters and the names of in-progress operations.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Feeds: m.feeds, Stalls: m.stalls, Active: m.activeLocked()}
}

func (m *Monitor) activeLocked() []string {
	ops := make([]string, 0, len(m.active))
	for op := range m.active {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
