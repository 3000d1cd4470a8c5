package ws

import "encoding/json"

// Event types on the duplex channel.
const (
	// client -> server
	EventJoin     = "join_conversation"
	EventLeave    = "leave_conversation"
	EventSend     = "send_message"
	EventMarkRead = "mark_read"
	EventTyping   = "typing"
	EventSignOut  = "sign_out"

	// server -> client
	EventAck             = "ack"
	EventRejected        = "rejected"
	EventAuthRejected    = "auth_rejected"
	EventMessageReceived = "message_received"
	EventPresenceChanged = "presence_changed"
)

// Envelope is the wire format for every event on the duplex channel. Acks
// and rejections carry the request type they answer in Of.
type Envelope struct {
	Type           string          `json:"type"`
	Of             string          `json:"of,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// SendPayload is the payload of a send_message envelope.
type SendPayload struct {
	Content    string `json:"content"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// PresencePayload is the payload of a presence_changed envelope.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// TypingPayload is relayed, never persisted.
type TypingPayload struct {
	UserID string `json:"user_id"`
}

func marshalEnvelope(env *Envelope) []byte {
	b, _ := json.Marshal(env)
	return b
}

func marshalJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func ack(of, convID string, payload any) *Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return &Envelope{Type: EventAck, Of: of, ConversationID: convID, Payload: raw}
}

func reject(of, convID, reason string) *Envelope {
	return &Envelope{Type: EventRejected, Of: of, ConversationID: convID, Reason: reason}
}
