package repository

import (
	"context"
	"time"

	"github.com/carewire/realtime-service/internal/models"
)

// ConversationRepository is the persistence boundary for conversations,
// messages, and participant profiles.
type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, c *models.Conversation) error

	// NextSeq atomically allocates the next sequence marker for the
	// conversation and stamps its last-activity. Returns
	// apperr.ErrConversationNotFound for unknown ids.
	NextSeq(ctx context.Context, convID string, at time.Time) (int64, error)

	InsertMessage(ctx context.Context, m *models.Message) error
	UpdateMessageStatus(ctx context.Context, messageID, status string) error

	// Messages returns up to limit messages of a conversation created
	// before the given time (zero time means latest), in chronological
	// order.
	Messages(ctx context.Context, convID string, before time.Time, limit int64) ([]*models.Message, error)

	// ConversationsForUser lists the user's conversations ordered by
	// last-activity, most recent first.
	ConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)

	// Profiles resolves user ids to display-safe projections.
	Profiles(ctx context.Context, userIDs []string) ([]models.ParticipantProfile, error)
}
