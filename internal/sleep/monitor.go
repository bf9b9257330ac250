package sleep

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor reports system sleep and wake transitions
type Monitor struct {
	mu       sync.RWMutex
	sleeping bool
	wakeTime time.Time
	logger   *slog.Logger
	onSleep  func()
	onWake   func()
}

// NewMonitor creates a Monitor. Either callback may be nil.
func NewMonitor(logger *slog.Logger, onSleep, onWake func()) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:  logger,
		onSleep: onSleep,
		onWake:  onWake,
	}
}

func (m *Monitor) markSleep() {
	m.mu.Lock()
	m.sleeping = true
	m.mu.Unlock()

	m.logger.Info("System entering sleep")

	if m.onSleep != nil {
		m.onSleep()
	}
}

func (m *Monitor) markWake() {
	m.mu.Lock()
	if !m.sleeping {
		m.mu.Unlock()
		return
	}
	m.sleeping = false
	m.wakeTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("System waking up")

	if m.onWake != nil {
		m.onWake()
	}
}

// IsSleeping returns true if the system is currently marked as sleeping
func (m *Monitor) IsSleeping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sleeping
}

// LastWake returns when the system last woke up, zero if never observed
func (m *Monitor) LastWake() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wakeTime
}
