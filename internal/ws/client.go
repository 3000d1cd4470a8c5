package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Connection state machine: Connecting → Authenticated → Closed. A client
// is "subscribed" while its subscription set is non-empty; subscriptions
// are only reachable from the Authenticated state.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

// conn is the subset of *websocket.Conn the client needs; tests substitute
// their own.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// dedupeWindow bounds the per-connection duplicate-suppression memory.
const dedupeWindow = 512

// Client is one duplex connection bound to an admitted session.
type Client struct {
	ID        string
	UserID    string
	SessionID string
	Role      string
	ExpiresAt time.Time

	ws      conn
	send    chan []byte
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	subs      map[string]struct{}
	seen      map[string]struct{} // delivered message ids
	seenOrder []string
	closed    bool
}

func NewClient(ws conn, sendBuffer, ratePerSec int) *Client {
	return &Client{
		ID:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		state:   StateConnecting,
		subs:    make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) authenticate(sessionID, userID, role string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.state = StateAuthenticated
	c.SessionID = sessionID
	c.UserID = userID
	c.Role = role
	c.ExpiresAt = expiresAt
}

func (c *Client) subscribe(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return false
	}
	c.subs[convID] = struct{}{}
	return true
}

func (c *Client) unsubscribe(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, convID)
}

func (c *Client) isSubscribed(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[convID]
	return ok
}

// enqueue hands an outbound frame to the write pump without blocking.
// Slow consumers drop frames rather than stalling fan-out. The select
// runs under the same lock as the closed check; close() takes that lock
// before closing the channel, so a racing teardown can never turn this
// into a send on a closed channel.
func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) enqueueEnvelope(env *Envelope) bool {
	return c.enqueue(marshalEnvelope(env))
}

// deliverMessage enqueues a message fan-out frame at most once per message
// id on this connection.
func (c *Client) deliverMessage(messageID string, b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, dup := c.seen[messageID]; dup {
		return false
	}
	c.seen[messageID] = struct{}{}
	c.seenOrder = append(c.seenOrder, messageID)
	if len(c.seenOrder) > dedupeWindow {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// close transitions to Closed and releases the write pump. Idempotent;
// pending sends on this connection are dropped, other connections are
// untouched.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}
