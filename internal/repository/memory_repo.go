package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/models"
)

// MemoryRepo is an in-memory ConversationRepository used by tests and
// local development runs without a database.
type MemoryRepo struct {
	mu       sync.RWMutex
	convs    map[string]*models.Conversation
	msgs     map[string][]*models.Message // convID -> chronological
	profiles map[string]models.ParticipantProfile
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		convs:    make(map[string]*models.Conversation),
		msgs:     make(map[string][]*models.Message),
		profiles: make(map[string]models.ParticipantProfile),
	}
}

// SeedProfile registers a display projection for a user.
func (r *MemoryRepo) SeedProfile(p models.ParticipantProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.UserID] = p
}

func (r *MemoryRepo) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, apperr.ErrConversationNotFound
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp, nil
}

func (r *MemoryRepo) CreateConversation(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LastActivity.IsZero() {
		c.LastActivity = c.CreatedAt
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	r.convs[c.ID] = &cp
	return nil
}

func (r *MemoryRepo) NextSeq(_ context.Context, convID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok {
		return 0, apperr.ErrConversationNotFound
	}
	c.LastSeq++
	c.LastActivity = at
	return c.LastSeq, nil
}

func (r *MemoryRepo) InsertMessage(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.msgs[m.ConversationID] = append(r.msgs[m.ConversationID], &cp)
	return nil
}

func (r *MemoryRepo) UpdateMessageStatus(_ context.Context, messageID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.msgs {
		for _, m := range msgs {
			if m.ID == messageID {
				m.Status = status
				return nil
			}
		}
	}
	return nil
}

func (r *MemoryRepo) Messages(_ context.Context, convID string, before time.Time, limit int64) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Message
	for _, m := range r.msgs[convID] {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (r *MemoryRepo) ConversationsForUser(_ context.Context, userID string) ([]*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Conversation
	for _, c := range r.convs {
		if contains(c.Participants, userID) {
			cp := *c
			cp.Participants = append([]string(nil), c.Participants...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (r *MemoryRepo) ConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, c := range r.convs {
		if contains(c.Participants, userID) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepo) Profiles(_ context.Context, userIDs []string) ([]models.ParticipantProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ParticipantProfile
	for _, id := range userIDs {
		if p, ok := r.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
