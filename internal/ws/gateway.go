package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/auth"
	"github.com/carewire/realtime-service/internal/config"
	"github.com/carewire/realtime-service/internal/metrics"
	"github.com/carewire/realtime-service/internal/models"
	"github.com/carewire/realtime-service/internal/presence"
	"github.com/carewire/realtime-service/internal/service"
)

// SessionRecorder maintains server-side session records. The guard stays
// pure; the gateway owns create/refresh/destroy around admissions.
type SessionRecorder interface {
	Create(ctx context.Context, sess *models.Session) error
	Refresh(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
}

// Gateway terminates duplex connections: admission, per-connection state,
// subscription authorization, message routing, and presence integration.
type Gateway struct {
	guard    *auth.Guard
	sessions SessionRecorder
	chats    *service.ChatService
	tracker  *presence.Tracker
	hub      *Hub
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func NewGateway(guard *auth.Guard, sessions SessionRecorder, chats *service.ChatService, tracker *presence.Tracker, hub *Hub, cfg *config.Config, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		guard:    guard,
		sessions: sessions,
		chats:    chats,
		tracker:  tracker,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handler is mounted behind the fiber websocket upgrade route. The token
// rides the query string; a rejection envelope is written before the
// transport is torn down.
func (g *Gateway) Handler() func(*websocket.Conn) {
	return func(wc *websocket.Conn) {
		ctx := context.Background()

		adm, err := g.guard.Admit(ctx, wc.Query("token"))
		if err != nil {
			metrics.AdmissionsRejected.Inc()
			_ = wc.WriteMessage(websocket.TextMessage, marshalEnvelope(&Envelope{
				Type:   EventAuthRejected,
				Reason: apperr.Reason(err),
			}))
			_ = wc.Close()
			return
		}

		c := NewClient(wc, g.cfg.WS.SendBuffer, g.cfg.WS.RateLimitPerSec)
		c.authenticate(adm.SessionID, adm.UserID, adm.Role, adm.ExpiresAt)
		g.ensureSession(ctx, adm)

		g.hub.Register(c)
		g.tracker.MarkOnline(ctx, c.UserID, c.ID)
		metrics.ConnectionsActive.Inc()
		g.logger.Infow("connection open", "conn_id", c.ID, "user_id", c.UserID, "role", c.Role)

		go g.writePump(c)
		g.readPump(ctx, c)
		g.teardown(ctx, c)
	}
}

// ensureSession refreshes the record created at sign-in, or recreates it
// if it aged out between sign-in and connect.
func (g *Gateway) ensureSession(ctx context.Context, adm *auth.Admission) {
	if g.sessions == nil {
		return
	}
	err := g.sessions.Refresh(ctx, adm.SessionID)
	if err == nil {
		return
	}
	if !errors.Is(err, apperr.ErrSessionNotFound) {
		g.logger.Warnw("session refresh", "session_id", adm.SessionID, "err", err)
		return
	}
	if err := g.sessions.Create(ctx, &models.Session{
		ID:        adm.SessionID,
		UserID:    adm.UserID,
		Role:      adm.Role,
		IssuedAt:  adm.IssuedAt,
		ExpiresAt: adm.ExpiresAt,
	}); err != nil {
		g.logger.Warnw("session create", "session_id", adm.SessionID, "err", err)
	}
}

// readDeadline is the idle cutoff, capped at the token's hard expiry so
// a silent connection cannot outlive its credential.
func (g *Gateway) readDeadline(c *Client) time.Time {
	d := time.Now().Add(g.cfg.IdleTimeout)
	if !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(d) {
		d = c.ExpiresAt
	}
	return d
}

func (g *Gateway) readPump(ctx context.Context, c *Client) {
	c.ws.SetReadLimit(g.cfg.WS.MaxMessageSizeBytes)
	_ = c.ws.SetReadDeadline(g.readDeadline(c))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(g.readDeadline(c))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(g.readDeadline(c))

		if !c.limiter.Allow() {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if closeConn := g.handleEnvelope(ctx, c, &env); closeConn {
			return
		}
	}
}

func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// handleEnvelope routes one inbound event. Returns true when the
// connection should close (explicit sign-out, expired credential).
func (g *Gateway) handleEnvelope(ctx context.Context, c *Client, env *Envelope) bool {
	if !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt) {
		c.enqueueEnvelope(&Envelope{Type: EventAuthRejected, Reason: apperr.ReasonExpired})
		return true
	}

	switch env.Type {
	case EventJoin:
		g.handleJoin(ctx, c, env)
	case EventLeave:
		g.hub.Unsubscribe(c, env.ConversationID)
		c.enqueueEnvelope(ack(EventLeave, env.ConversationID, nil))
	case EventSend:
		g.handleSend(ctx, c, env)
	case EventMarkRead:
		g.handleMarkRead(ctx, c, env)
	case EventTyping:
		if c.isSubscribed(env.ConversationID) {
			g.hub.RelayToConversation(env.ConversationID, &Envelope{
				Type:           EventTyping,
				ConversationID: env.ConversationID,
				Payload:        marshalJSON(TypingPayload{UserID: c.UserID}),
			}, c.ID)
		}
	case EventSignOut:
		if g.sessions != nil {
			if err := g.sessions.Destroy(ctx, c.SessionID); err != nil {
				g.logger.Warnw("session destroy", "session_id", c.SessionID, "err", err)
			}
		}
		c.enqueueEnvelope(ack(EventSignOut, "", nil))
		return true
	default:
		c.enqueueEnvelope(reject(env.Type, env.ConversationID, apperr.ReasonUnknownEvent))
	}
	return false
}

// handleJoin authorizes a subscription against the conversation's
// participant set. A non-member gets the same rejection whether or not
// the conversation exists; nothing about its membership leaks.
func (g *Gateway) handleJoin(ctx context.Context, c *Client, env *Envelope) {
	convID := env.ConversationID
	if convID == "" {
		c.enqueueEnvelope(reject(EventJoin, convID, apperr.ReasonNotAParticipant))
		return
	}
	ok, err := g.chats.IsMember(ctx, convID, c.UserID)
	if err != nil && !errors.Is(err, apperr.ErrConversationNotFound) {
		g.logger.Errorw("membership check", "conversation_id", convID, "err", err)
		c.enqueueEnvelope(reject(EventJoin, convID, apperr.ReasonNotAParticipant))
		return
	}
	if err != nil || !ok {
		c.enqueueEnvelope(reject(EventJoin, convID, apperr.ReasonNotAParticipant))
		return
	}
	if !g.hub.Subscribe(c, convID) {
		c.enqueueEnvelope(reject(EventJoin, convID, apperr.ReasonNotAParticipant))
		return
	}
	g.touchSession(ctx, c)
	c.enqueueEnvelope(ack(EventJoin, convID, nil))
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, env *Envelope) {
	convID := env.ConversationID
	if !c.isSubscribed(convID) {
		c.enqueueEnvelope(reject(EventSend, convID, apperr.ReasonNotSubscribed))
		return
	}
	var p SendPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.enqueueEnvelope(reject(EventSend, convID, apperr.ReasonMalformedPayload))
			return
		}
	}

	msg, err := g.chats.Append(ctx, convID, c.UserID, p.ReceiverID, p.Content)
	if err != nil {
		reason := apperr.Reason(err)
		if reason == "" {
			g.logger.Errorw("append", "conversation_id", convID, "err", err)
			reason = "internal"
		}
		c.enqueueEnvelope(reject(EventSend, convID, reason))
		return
	}

	// sender ack carries the persisted message so optimistic client state
	// can reconcile against the server-assigned sequence marker
	c.enqueueEnvelope(&Envelope{
		Type:      EventAck,
		Of:        EventSend,
		MessageID: msg.ID,
		Payload:   marshalJSON(msg),
	})

	delivered := g.hub.FanOutMessage(msg, c.ID)
	metrics.MessagesFannedOut.Add(float64(delivered))
	if delivered > 0 {
		g.chats.MarkDelivered(ctx, msg.ID)
	}
	g.touchSession(ctx, c)
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Client, env *Envelope) {
	if err := g.chats.MarkRead(ctx, env.ConversationID, env.MessageID, c.UserID); err != nil {
		reason := apperr.Reason(err)
		if reason == "" {
			reason = "internal"
		}
		c.enqueueEnvelope(reject(EventMarkRead, env.ConversationID, reason))
		return
	}
	c.enqueueEnvelope(ack(EventMarkRead, env.ConversationID, nil))
}

func (g *Gateway) touchSession(ctx context.Context, c *Client) {
	if g.sessions == nil {
		return
	}
	if err := g.sessions.Refresh(ctx, c.SessionID); err != nil && !errors.Is(err, apperr.ErrSessionNotFound) {
		g.logger.Warnw("session refresh", "session_id", c.SessionID, "err", err)
	}
}

// ForceSignOut revokes the sessions behind a user's live connections and
// tears the connections down, notifying each first. Already-issued tokens
// for those sessions are rejected on the next admission via the
// revocation tombstones. Returns the number of connections closed.
func (g *Gateway) ForceSignOut(ctx context.Context, userID string) int {
	conns := g.hub.ConnectionsOf(userID)
	for _, c := range conns {
		if g.sessions != nil && c.SessionID != "" {
			if err := g.sessions.Revoke(ctx, c.SessionID); err != nil {
				g.logger.Warnw("session revoke", "session_id", c.SessionID, "err", err)
			}
		}
		c.enqueueEnvelope(&Envelope{Type: EventAuthRejected, Reason: apperr.ReasonRevoked})
		c.close()
	}
	if len(conns) > 0 {
		g.logger.Infow("forced sign-out", "user_id", userID, "connections", len(conns))
	}
	return len(conns)
}

func (g *Gateway) teardown(ctx context.Context, c *Client) {
	g.hub.Unregister(c)
	g.tracker.MarkOffline(ctx, c.UserID, c.ID)
	c.close()
	metrics.ConnectionsActive.Dec()
	g.logger.Infow("connection closed", "conn_id", c.ID, "user_id", c.UserID)
}

// Run forwards presence flips to connections sharing a conversation with
// the affected user. Blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	events, cancel := g.tracker.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			convIDs, err := g.chats.ConversationIDsForUser(ctx, ev.UserID)
			if err != nil {
				g.logger.Warnw("presence broadcast", "user_id", ev.UserID, "err", err)
				continue
			}
			payload := PresencePayload{UserID: ev.UserID, Online: ev.Online}
			if !ev.LastSeen.IsZero() {
				payload.LastSeen = ev.LastSeen.Unix()
			}
			g.hub.BroadcastToConversations(convIDs, &Envelope{
				Type:    EventPresenceChanged,
				Payload: marshalJSON(payload),
			}, ev.UserID)
		}
	}
}
