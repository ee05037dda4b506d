package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/koscakluka/ema-companion/internal/utils"
)

const (
	DefaultIdleWarnAfter    = 45 * time.Second
	DefaultIdleSleepAfter   = 60 * time.Second
	DefaultIdlePollInterval = time.Second

	minIdlePollInterval = 500 * time.Millisecond
	idleWarningCooldown = 10 * time.Second
	idleMonitorStopWait = 2 * time.Second
)

// IdleObserver is the read-only view of a session the idle monitor needs.
type IdleObserver interface {
	IsAwake() bool
	IsSpeaking() bool
	LastActivity() time.Time
	SubmitIntent(intent Intent) bool
}

// IdleMonitor nudges an awake but quiet user and eventually puts the
// companion to sleep. It never touches session state directly, only
// submits intents.
type IdleMonitor struct {
	session      IdleObserver
	warnAfter    time.Duration
	sleepAfter   time.Duration
	pollInterval time.Duration
	now          utils.Clock

	lastWarning time.Time

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

type IdleMonitorOption func(*IdleMonitor)

func WithIdleWarnAfter(d time.Duration) IdleMonitorOption {
	return func(m *IdleMonitor) { m.warnAfter = d }
}

func WithIdleSleepAfter(d time.Duration) IdleMonitorOption {
	return func(m *IdleMonitor) { m.sleepAfter = d }
}

func WithIdlePollInterval(d time.Duration) IdleMonitorOption {
	return func(m *IdleMonitor) { m.pollInterval = d }
}

func WithIdleClock(now utils.Clock) IdleMonitorOption {
	return func(m *IdleMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

func NewIdleMonitor(session IdleObserver, opts ...IdleMonitorOption) *IdleMonitor {
	m := &IdleMonitor{
		session:      session,
		warnAfter:    DefaultIdleWarnAfter,
		sleepAfter:   DefaultIdleSleepAfter,
		pollInterval: DefaultIdlePollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.sleepAfter = max(m.sleepAfter, m.warnAfter)
	m.pollInterval = max(m.pollInterval, minIdlePollInterval)
	return m
}

// Start launches the polling goroutine. Calling Start on a running monitor
// does nothing.
func (m *IdleMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.stop = cancel
	m.done = done

	ticker := time.NewTicker(m.pollInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evaluate()
			}
		}
	}()
}

// Stop halts the monitor, waiting a bounded time for the goroutine to exit.
func (m *IdleMonitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	stop()

	select {
	case <-done:
	case <-time.After(idleMonitorStopWait):
		logger.Warn("idle monitor did not stop in time")
	}
	m.lastWarning = time.Time{}
}

// evaluate runs one poll. It only ever runs on the monitor goroutine.
func (m *IdleMonitor) evaluate() {
	if !m.session.IsAwake() {
		m.lastWarning = time.Time{}
		return
	}
	if m.session.IsSpeaking() {
		return
	}

	now := m.now()
	idle := now.Sub(m.session.LastActivity())

	if idle >= m.sleepAfter {
		m.lastWarning = time.Time{}
		m.session.SubmitIntent(IntentIdleSleep)
		return
	}

	if idle >= m.warnAfter && now.Sub(m.lastWarning) >= idleWarningCooldown {
		if m.session.SubmitIntent(IntentIdleNudge) {
			m.lastWarning = now
		}
	}
}
