package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/realtime-service/internal/models"
)

// Event is emitted when a user's online flag flips. Redundant connects and
// disconnects (second tab opens, first of two tabs closes) emit nothing.
type Event struct {
	UserID   string
	Online   bool
	LastSeen time.Time
}

// Mirror receives flip transitions so presence can be read outside this
// process (dashboard indicators). Best effort; failures are logged, not
// propagated.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// Tracker owns all presence state. Online means "at least one active
// connection"; the flag flips only on 0→1 and 1→0 transitions of the
// user's connection set. All mutation goes through MarkOnline/MarkOffline.
type Tracker struct {
	mu       sync.RWMutex
	conns    map[string]map[string]struct{} // userID -> connection ids
	lastSeen map[string]time.Time
	subs     map[int]chan Event
	nextSub  int

	mirror Mirror
	logger *zap.SugaredLogger
}

func NewTracker(mirror Mirror, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{
		conns:    make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		subs:     make(map[int]chan Event),
		mirror:   mirror,
		logger:   logger,
	}
}

// MarkOnline registers a connection for the user. Emits an online event
// only when this is the user's first connection.
func (t *Tracker) MarkOnline(ctx context.Context, userID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	first := len(set) == 0
	set[connID] = struct{}{}
	if !first {
		return
	}

	if t.mirror != nil {
		if err := t.mirror.SetOnline(ctx, userID); err != nil {
			t.logger.Warnw("presence mirror set online", "user_id", userID, "err", err)
		}
	}
	t.emit(Event{UserID: userID, Online: true})
}

// MarkOffline removes a connection. Emits an offline event and stamps
// last-seen only when the user's connection set drains.
func (t *Tracker) MarkOffline(ctx context.Context, userID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return
	}
	if _, ok := set[connID]; !ok {
		return
	}
	delete(set, connID)
	if len(set) > 0 {
		return
	}
	delete(t.conns, userID)

	now := time.Now().UTC()
	t.lastSeen[userID] = now
	if t.mirror != nil {
		if err := t.mirror.SetOffline(ctx, userID, now); err != nil {
			t.logger.Warnw("presence mirror set offline", "user_id", userID, "err", err)
		}
	}
	t.emit(Event{UserID: userID, Online: false, LastSeen: now})
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}

func (t *Tracker) BulkStatus(userIDs []string) map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = len(t.conns[id]) > 0
	}
	return out
}

// Record returns the long-lived presence record for a user. A user never
// seen before reads as offline with a zero last-seen.
func (t *Tracker) Record(userID string) models.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.PresenceRecord{
		UserID:   userID,
		Online:   len(t.conns[userID]) > 0,
		LastSeen: t.lastSeen[userID],
	}
}

// Subscribe returns a channel of flip events and a cancel func. Slow
// subscribers drop events rather than blocking presence transitions.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, 64)
	t.subs[id] = ch
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// emit is called with the lock held so per-user event order matches the
// order transitions were decided.
func (t *Tracker) emit(ev Event) {
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
