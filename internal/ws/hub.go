package ws

import (
	"sync"

	"github.com/carewire/realtime-service/internal/models"
)

// Hub indexes live clients by connection, user, and conversation
// subscription. It owns fan-out targeting; all mutation happens through
// its methods.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connection id -> client
	byUser  map[string]map[string]*Client // user id -> connection id -> client
	byConv  map[string]map[string]*Client // conversation id -> connection id -> client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
		byConv:  make(map[string]map[string]*Client),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	if _, ok := h.byUser[c.UserID]; !ok {
		h.byUser[c.UserID] = make(map[string]*Client)
	}
	h.byUser[c.UserID][c.ID] = c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ID)
	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	for convID := range h.byConv {
		delete(h.byConv[convID], c.ID)
		if len(h.byConv[convID]) == 0 {
			delete(h.byConv, convID)
		}
	}
}

// Subscribe adds the client's connection to a conversation's fan-out set.
// The client-side state check happens first so a connection that never
// authenticated can never appear in byConv.
func (h *Hub) Subscribe(c *Client, convID string) bool {
	if !c.subscribe(convID) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byConv[convID]; !ok {
		h.byConv[convID] = make(map[string]*Client)
	}
	h.byConv[convID][c.ID] = c
	return true
}

func (h *Hub) Unsubscribe(c *Client, convID string) {
	c.unsubscribe(convID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byConv[convID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.byConv, convID)
		}
	}
}

// FanOutMessage delivers a persisted message to every connection
// subscribed to its conversation except the sender's own, at most once per
// connection per message. Returns the number of connections reached.
func (h *Hub) FanOutMessage(m *models.Message, excludeConnID string) int {
	env := &Envelope{
		Type:           EventMessageReceived,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Payload:        marshalJSON(m),
	}
	b := marshalEnvelope(env)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byConv[m.ConversationID]))
	for id, c := range h.byConv[m.ConversationID] {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.deliverMessage(m.ID, b) {
			delivered++
		}
	}
	return delivered
}

// RelayToConversation sends a non-persisted envelope (typing indicators)
// to co-subscribers.
func (h *Hub) RelayToConversation(convID string, env *Envelope, excludeConnID string) {
	b := marshalEnvelope(env)
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byConv[convID]))
	for id, c := range h.byConv[convID] {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(b)
	}
}

// BroadcastToConversations sends an envelope once to every connection
// subscribed to at least one of the given conversations, skipping
// connections of skipUserID.
func (h *Hub) BroadcastToConversations(convIDs []string, env *Envelope, skipUserID string) {
	b := marshalEnvelope(env)

	h.mu.RLock()
	targets := make(map[string]*Client)
	for _, convID := range convIDs {
		for id, c := range h.byConv[convID] {
			if c.UserID == skipUserID {
				continue
			}
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(b)
	}
}

// ConnectionsOf returns a user's live connections (used for forced
// sign-out).
func (h *Hub) ConnectionsOf(userID string) []*Client {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	return conns
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
