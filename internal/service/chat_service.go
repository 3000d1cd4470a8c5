package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/models"
	"github.com/carewire/realtime-service/internal/repository"
)

// EventPublisher receives persisted messages for downstream consumers
// (notifications). Implementations must tolerate being called concurrently.
type EventPublisher interface {
	PublishMessagePersisted(ctx context.Context, m *models.Message) error
}

// ChatService is the conversation store: it owns membership checks,
// content validation, and per-conversation append serialization. Appends
// to one conversation never contend with appends to another.
type ChatService struct {
	repo      repository.ConversationRepository
	publisher EventPublisher
	logger    *zap.SugaredLogger

	locks sync.Map // conversation id -> *sync.Mutex
}

func NewChatService(repo repository.ConversationRepository, publisher EventPublisher, logger *zap.SugaredLogger) *ChatService {
	return &ChatService{repo: repo, publisher: publisher, logger: logger}
}

func (s *ChatService) lockFor(convID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(convID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Append persists a message. Rejections: apperr.ErrNotAParticipant when
// the sender is not a member (no state is touched, including
// last-activity), apperr.ErrEmptyContent when content is blank after
// trimming. On success the returned message carries the server-assigned
// sequence marker, monotonic within its conversation.
func (s *ChatService) Append(ctx context.Context, convID, senderID, receiverID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.ErrEmptyContent
	}

	mu := s.lockFor(convID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(conv.Participants, senderID) {
		return nil, apperr.ErrNotAParticipant
	}

	now := time.Now().UTC()
	seq, err := s.repo.NextSeq(ctx, convID, now)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Seq:            seq,
		Status:         models.StatusPersisted,
		CreatedAt:      now,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMessagePersisted(ctx, msg); err != nil {
			s.logger.Warnw("publish message persisted", "message_id", msg.ID, "err", err)
		}
	}
	return msg, nil
}

// MembersOf returns the participant set used for subscription
// authorization.
func (s *ChatService) MembersOf(ctx context.Context, convID string) ([]string, error) {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

// IsMember reports membership without exposing the participant set.
func (s *ChatService) IsMember(ctx context.Context, convID, userID string) (bool, error) {
	members, err := s.MembersOf(ctx, convID)
	if err != nil {
		return false, err
	}
	return isParticipant(members, userID), nil
}

// ListForUser returns the user's conversations by last-activity
// descending, with participants resolved to display-safe projections.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]models.ConversationView, error) {
	convs, err := s.repo.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.ConversationView, 0, len(convs))
	for _, c := range convs {
		profiles, err := s.repo.Profiles(ctx, c.Participants)
		if err != nil {
			return nil, err
		}
		views = append(views, models.ConversationView{
			ID:           c.ID,
			Participants: profiles,
			CreatedAt:    c.CreatedAt,
			LastActivity: c.LastActivity,
		})
	}
	return views, nil
}

func (s *ChatService) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ConversationIDsForUser(ctx, userID)
}

// History returns messages for initial page load, membership checked.
func (s *ChatService) History(ctx context.Context, convID, userID string, before time.Time, limit int64) ([]*models.Message, error) {
	ok, err := s.IsMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotAParticipant
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.Messages(ctx, convID, before, limit)
}

// MarkDelivered advances a message's delivery status after fan-out.
// Best effort; content is already immutable at this point.
func (s *ChatService) MarkDelivered(ctx context.Context, messageID string) {
	if err := s.repo.UpdateMessageStatus(ctx, messageID, models.StatusDelivered); err != nil {
		s.logger.Warnw("mark delivered", "message_id", messageID, "err", err)
	}
}

// MarkRead records a read receipt from a participant.
func (s *ChatService) MarkRead(ctx context.Context, convID, messageID, readerID string) error {
	ok, err := s.IsMember(ctx, convID, readerID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotAParticipant
	}
	return s.repo.UpdateMessageStatus(ctx, messageID, models.StatusRead)
}

func isParticipant(members []string, userID string) bool {
	for _, m := range members {
		if m == userID {
			return true
		}
	}
	return false
}
