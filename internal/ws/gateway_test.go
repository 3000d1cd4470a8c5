package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/config"
	"github.com/carewire/realtime-service/internal/models"
	"github.com/carewire/realtime-service/internal/presence"
	"github.com/carewire/realtime-service/internal/repository"
	"github.com/carewire/realtime-service/internal/service"
)

// fakeConn satisfies the conn interface without a transport. Tests drive
// handleEnvelope directly and read outbound frames from the send channel.
type fakeConn struct{}

func (fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, apperr.ErrConnectionClosed }
func (fakeConn) WriteMessage(int, []byte) error    { return nil }
func (fakeConn) SetReadLimit(int64)                {}
func (fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (fakeConn) SetPongHandler(func(string) error) {}
func (fakeConn) Close() error                      { return nil }

type fixture struct {
	gw      *Gateway
	hub     *Hub
	repo    *repository.MemoryRepo
	tracker *presence.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepo()
	require.NoError(t, repo.CreateConversation(context.Background(), &models.Conversation{
		ID:           "conv-1",
		Participants: []string{"alice", "bob"},
	}))

	logger := zap.NewNop().Sugar()
	chats := service.NewChatService(repo, nil, logger)
	tracker := presence.NewTracker(nil, logger)
	hub := NewHub()
	gw := NewGateway(nil, nil, chats, tracker, hub, config.Default(), logger)
	return &fixture{gw: gw, hub: hub, repo: repo, tracker: tracker}
}

func (f *fixture) authedClient(userID string) *Client {
	c := NewClient(fakeConn{}, 16, 1000)
	c.authenticate("sess-"+userID, userID, models.RolePatient, time.Now().Add(time.Hour))
	f.hub.Register(c)
	return c
}

func recvEnvelope(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case b := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
		return nil
	}
}

func assertNoEnvelope(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected envelope: %s", b)
	default:
	}
}

func TestJoin_MemberAcked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice")

	f.gw.handleEnvelope(ctx, alice, &Envelope{Type: EventJoin, ConversationID: "conv-1"})

	env := recvEnvelope(t, alice)
	assert.Equal(t, EventAck, env.Type)
	assert.Equal(t, EventJoin, env.Of)
	assert.True(t, alice.isSubscribed("conv-1"))
}

func TestJoin_NonMemberRejectedWithoutDisclosure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := f.authedClient("carol")

	for _, convID := range []string{"conv-1", "conv-does-not-exist"} {
		f.gw.handleEnvelope(ctx, carol, &Envelope{Type: EventJoin, ConversationID: convID})

		env := recvEnvelope(t, carol)
		assert.Equal(t, EventRejected, env.Type)
		assert.Equal(t, apperr.ReasonNotAParticipant, env.Reason, "existing and missing conversations are indistinguishable")
		assert.Empty(t, env.Payload)
		assert.False(t, carol.isSubscribed(convID))
	}
	assert.Equal(t, StateAuthenticated, carol.State(), "rejection leaves state unchanged")
}

func TestSend_FanOutToSubscribedPeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice")
	bob := f.authedClient("bob")

	f.gw.handleEnvelope(ctx, alice, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	recvEnvelope(t, alice)
	recvEnvelope(t, bob)

	f.gw.handleEnvelope(ctx, alice, &Envelope{
		Type:           EventSend,
		ConversationID: "conv-1",
		Payload:        marshalJSON(SendPayload{Content: "hello"}),
	})

	// sender ack carries the persisted message with its sequence marker
	ackEnv := recvEnvelope(t, alice)
	require.Equal(t, EventAck, ackEnv.Type)
	require.Equal(t, EventSend, ackEnv.Of)
	var acked models.Message
	require.NoError(t, json.Unmarshal(ackEnv.Payload, &acked))
	assert.Equal(t, int64(1), acked.Seq)
	assert.Equal(t, "hello", acked.Content)

	// bob receives exactly one fan-out event
	got := recvEnvelope(t, bob)
	assert.Equal(t, EventMessageReceived, got.Type)
	assert.Equal(t, acked.ID, got.MessageID)
	var delivered models.Message
	require.NoError(t, json.Unmarshal(got.Payload, &delivered))
	assert.Equal(t, "hello", delivered.Content)
	assert.Equal(t, int64(1), delivered.Seq)
	assertNoEnvelope(t, bob)

	// sender is not a fan-out target
	assertNoEnvelope(t, alice)
}

func TestSend_SequenceMarkersIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice")
	bob := f.authedClient("bob")
	f.gw.handleEnvelope(ctx, alice, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	recvEnvelope(t, alice)
	recvEnvelope(t, bob)

	var prev int64
	for i := 0; i < 3; i++ {
		f.gw.handleEnvelope(ctx, alice, &Envelope{
			Type:           EventSend,
			ConversationID: "conv-1",
			Payload:        marshalJSON(SendPayload{Content: "hello"}),
		})
		recvEnvelope(t, alice) // ack

		got := recvEnvelope(t, bob)
		var m models.Message
		require.NoError(t, json.Unmarshal(got.Payload, &m))
		assert.Greater(t, m.Seq, prev)
		prev = m.Seq
	}
}

func TestSend_NotSubscribedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice") // member, but never joined

	f.gw.handleEnvelope(ctx, alice, &Envelope{
		Type:           EventSend,
		ConversationID: "conv-1",
		Payload:        marshalJSON(SendPayload{Content: "hello"}),
	})

	env := recvEnvelope(t, alice)
	assert.Equal(t, EventRejected, env.Type)
	assert.Equal(t, apperr.ReasonNotSubscribed, env.Reason)
}

func TestSend_EmptyContentNoFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice")
	bob := f.authedClient("bob")
	f.gw.handleEnvelope(ctx, alice, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	recvEnvelope(t, alice)
	recvEnvelope(t, bob)

	f.gw.handleEnvelope(ctx, alice, &Envelope{
		Type:           EventSend,
		ConversationID: "conv-1",
		Payload:        marshalJSON(SendPayload{Content: "   \t "}),
	})

	env := recvEnvelope(t, alice)
	assert.Equal(t, EventRejected, env.Type)
	assert.Equal(t, apperr.ReasonEmptyContent, env.Reason)
	assertNoEnvelope(t, bob)
}

func TestUnauthenticatedConnectionCannotSubscribe(t *testing.T) {
	f := newFixture(t)
	c := NewClient(fakeConn{}, 16, 1000)
	c.UserID = "alice" // even a known member id
	f.hub.Register(c)

	assert.False(t, f.hub.Subscribe(c, "conv-1"))
	assert.Equal(t, StateConnecting, c.State())
	assert.False(t, c.isSubscribed("conv-1"))

	// and fan-out never targets it
	f.gw.handleEnvelope(context.Background(), c, &Envelope{
		Type:           EventSend,
		ConversationID: "conv-1",
		Payload:        marshalJSON(SendPayload{Content: "hi"}),
	})
	env := recvEnvelope(t, c)
	assert.Equal(t, EventRejected, env.Type)
}

func TestLeave_RemovesFanOutTargetingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice")
	bob := f.authedClient("bob")
	f.gw.handleEnvelope(ctx, alice, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	recvEnvelope(t, alice)
	recvEnvelope(t, bob)

	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventLeave, ConversationID: "conv-1"})
	recvEnvelope(t, bob) // leave ack

	f.gw.handleEnvelope(ctx, alice, &Envelope{
		Type:           EventSend,
		ConversationID: "conv-1",
		Payload:        marshalJSON(SendPayload{Content: "anyone there"}),
	})
	recvEnvelope(t, alice) // ack still arrives
	assertNoEnvelope(t, bob)
}

// recordingSessions satisfies SessionRecorder for tests that assert on
// the session lifecycle calls the gateway makes.
type recordingSessions struct {
	mu        sync.Mutex
	revoked   []string
	destroyed []string
}

func (r *recordingSessions) Create(context.Context, *models.Session) error { return nil }
func (r *recordingSessions) Refresh(context.Context, string) error         { return nil }

func (r *recordingSessions) Destroy(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = append(r.destroyed, id)
	return nil
}

func (r *recordingSessions) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, id)
	return nil
}

func TestForceSignOut_RevokesSessionsAndClosesConnections(t *testing.T) {
	f := newFixture(t)
	sessions := &recordingSessions{}
	f.gw.sessions = sessions

	tab1 := f.authedClient("alice")
	tab2 := f.authedClient("alice")
	bob := f.authedClient("bob")

	closed := f.gw.ForceSignOut(context.Background(), "alice")
	assert.Equal(t, 2, closed)

	for _, c := range []*Client{tab1, tab2} {
		env := recvEnvelope(t, c)
		assert.Equal(t, EventAuthRejected, env.Type)
		assert.Equal(t, apperr.ReasonRevoked, env.Reason)
		assert.Equal(t, StateClosed, c.State())
	}
	assert.Contains(t, sessions.revoked, "sess-alice")

	// other users' connections are untouched
	assert.Equal(t, StateAuthenticated, bob.State())
	assertNoEnvelope(t, bob)

	assert.Equal(t, 0, f.gw.ForceSignOut(context.Background(), "nobody"))
}

func TestExpiredCredentialClosesConnection(t *testing.T) {
	f := newFixture(t)
	stale := NewClient(fakeConn{}, 16, 1000)
	stale.authenticate("sess-alice", "alice", models.RolePatient, time.Now().Add(-time.Minute))
	f.hub.Register(stale)

	closeConn := f.gw.handleEnvelope(context.Background(), stale, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	assert.True(t, closeConn)

	env := recvEnvelope(t, stale)
	assert.Equal(t, EventAuthRejected, env.Type)
	assert.Equal(t, apperr.ReasonExpired, env.Reason)
	assert.False(t, stale.isSubscribed("conv-1"))
}

func TestSend_MalformedPayloadRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.authedClient("alice")
	bob := f.authedClient("bob")
	f.gw.handleEnvelope(ctx, alice, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	recvEnvelope(t, alice)
	recvEnvelope(t, bob)

	f.gw.handleEnvelope(ctx, alice, &Envelope{
		Type:           EventSend,
		ConversationID: "conv-1",
		Payload:        json.RawMessage(`{"content":5}`),
	})

	env := recvEnvelope(t, alice)
	assert.Equal(t, EventRejected, env.Type)
	assert.Equal(t, apperr.ReasonMalformedPayload, env.Reason)
	assertNoEnvelope(t, bob)
}

func TestSignOut_DestroysSessionAndClosesAfterAck(t *testing.T) {
	f := newFixture(t)
	sessions := &recordingSessions{}
	f.gw.sessions = sessions
	alice := f.authedClient("alice")

	closeConn := f.gw.handleEnvelope(context.Background(), alice, &Envelope{Type: EventSignOut})
	assert.True(t, closeConn)

	env := recvEnvelope(t, alice)
	assert.Equal(t, EventAck, env.Type)
	assert.Equal(t, EventSignOut, env.Of)
	assert.Equal(t, []string{"sess-alice"}, sessions.destroyed)
}

func TestPresenceBroadcast_ReachesSharedConversations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bob := f.authedClient("bob")
	f.gw.handleEnvelope(ctx, bob, &Envelope{Type: EventJoin, ConversationID: "conv-1"})
	recvEnvelope(t, bob)

	go f.gw.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let Run subscribe

	f.tracker.MarkOnline(ctx, "alice", "conn-a1")

	env := recvEnvelope(t, bob)
	require.Equal(t, EventPresenceChanged, env.Type)
	var p PresencePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, p.Online)

	f.tracker.MarkOffline(ctx, "alice", "conn-a1")
	env = recvEnvelope(t, bob)
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.False(t, p.Online)
	assert.NotZero(t, p.LastSeen)
}
