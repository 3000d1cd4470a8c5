package models

import "time"

// Delivery status of a message. Content is immutable once persisted; only
// the status field advances.
const (
	StatusPending   = "pending"
	StatusPersisted = "persisted"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Roles admitted by the session guard.
const (
	RolePatient    = "patient"
	RoleDoctor     = "doctor"
	RolePharmacist = "pharmacist"
	RoleAdmin      = "admin"
)

type Conversation struct {
	ID           string    `bson:"_id" json:"id"`
	Participants []string  `bson:"participants" json:"participants"`
	LastSeq      int64     `bson:"last_seq" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	LastActivity time.Time `bson:"last_activity" json:"last_activity"`
}

type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	ReceiverID     string    `bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	Content        string    `bson:"content" json:"content"`
	Seq            int64     `bson:"seq" json:"seq"`
	Status         string    `bson:"status" json:"status"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// ParticipantProfile is the display-safe projection returned by the
// conversation list endpoint. No credentials, no session material.
type ParticipantProfile struct {
	UserID      string `bson:"user_id" json:"user_id"`
	DisplayName string `bson:"display_name" json:"display_name"`
	Role        string `bson:"role" json:"role"`
}

// ConversationView is a conversation with participants resolved to
// profiles, as served to clients on initial load.
type ConversationView struct {
	ID           string               `json:"id"`
	Participants []ParticipantProfile `json:"participants"`
	CreatedAt    time.Time            `json:"created_at"`
	LastActivity time.Time            `json:"last_activity"`
}

type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ValidRole reports whether role belongs to the fixed participant set.
func ValidRole(role string) bool {
	switch role {
	case RolePatient, RoleDoctor, RolePharmacist, RoleAdmin:
		return true
	}
	return false
}
