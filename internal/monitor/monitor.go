package monitor

import (
	"context"
	"sync"
	"time"
)

// Sign-out reasons passed to the callback.
const (
	ReasonIdle    = "idle-timeout"
	ReasonExpired = "session-expired"
)

// Monitor is the client-side session companion: it tracks the last
// observed user interaction and the server-granted expiry, and triggers a
// sign-out sequence when either the idle threshold or the hard expiry is
// crossed. It is a convenience safeguard, not a security boundary — the
// server-side guard stays authoritative for every privileged operation.
type Monitor struct {
	idleTimeout time.Duration
	interval    time.Duration
	signOut     func(reason string)

	mu           sync.Mutex
	lastActivity time.Time
	expiresAt    time.Time
	fired        bool

	now func() time.Time
}

func New(idleTimeout, interval time.Duration, signOut func(reason string)) *Monitor {
	m := &Monitor{
		idleTimeout: idleTimeout,
		interval:    interval,
		signOut:     signOut,
		now:         time.Now,
	}
	m.lastActivity = m.now()
	return m
}

// Touch records a user interaction.
func (m *Monitor) Touch() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// SetExpiry installs the hard expiry confirmed by the server at admission.
func (m *Monitor) SetExpiry(t time.Time) {
	m.mu.Lock()
	m.expiresAt = t
	m.mu.Unlock()
}

// Run polls on the configured interval until ctx is cancelled or a
// sign-out fires. The callback fires at most once per Run.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reason, expired := m.check(); expired {
				m.signOut(reason)
				return
			}
		}
	}
}

func (m *Monitor) check() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fired {
		return "", false
	}
	now := m.now()
	if !m.expiresAt.IsZero() && now.After(m.expiresAt) {
		m.fired = true
		return ReasonExpired, true
	}
	if now.Sub(m.lastActivity) > m.idleTimeout {
		m.fired = true
		return ReasonIdle, true
	}
	return "", false
}
