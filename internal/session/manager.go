package session

import (
	"sync"
	"time"

	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/timer"
)

// Manager keeps one Coordinator per user and reaps sessions whose users have
// been gone long enough that re-materializing their state from the backend is
// cheaper than holding it in memory.
type Manager struct {
	backend Backend
	sched   timer.Scheduler
	cfg     Config
	notify  Notifier
	log     *logger.Logger

	reapAfter time.Duration

	mu       sync.RWMutex
	sessions map[string]*Coordinator

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates an empty session registry.
func NewManager(backend Backend, sched timer.Scheduler, cfg Config, reapAfter time.Duration, notify Notifier, log *logger.Logger) *Manager {
	return &Manager{
		backend:   backend,
		sched:     sched,
		cfg:       cfg,
		notify:    notify,
		log:       log,
		reapAfter: reapAfter,
		sessions:  make(map[string]*Coordinator),
		stop:      make(chan struct{}),
	}
}

// Get returns the user's coordinator, creating it on first use.
func (m *Manager) Get(userID string) *Coordinator {
	m.mu.RLock()
	c, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions[userID]; ok {
		return c
	}
	c = NewCoordinator(userID, m.backend, m.sched, m.cfg, m.notify, m.log)
	m.sessions[userID] = c
	return c
}

// Peek returns the user's coordinator without creating one.
func (m *Manager) Peek(userID string) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[userID]
	return c, ok
}

// Activity restarts the idle countdown for the user's session. A ping from
// a user without a live session is ignored rather than materializing one.
func (m *Manager) Activity(userID string) {
	if c, ok := m.Peek(userID); ok {
		c.ResetIdleTimer()
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartReaper launches a loop that drops sessions idle longer than the reap
// window. It returns immediately; Stop terminates the loop.
func (m *Manager) StartReaper(period time.Duration) {
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reap(time.Now())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) reap(now time.Time) {
	m.mu.Lock()
	var reaped []*Coordinator
	for userID, c := range m.sessions {
		if now.Sub(c.LastActivity()) >= m.reapAfter {
			delete(m.sessions, userID)
			reaped = append(reaped, c)
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	for _, c := range reaped {
		c.Close()
	}
	if len(reaped) > 0 {
		m.log.Info("reaped idle sessions", "reaped", len(reaped), "remaining", remaining)
	}
}

// Stop terminates the reaper and closes every live session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Coordinator)
	m.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
}
