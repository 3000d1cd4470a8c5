package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/models"
)

// Store keeps session records in Redis. A record is created at sign-in,
// its TTL slides on each verified activity event, and it is deleted on
// sign-out or revocation. Revocations are tombstone keys the guard checks
// on every admission.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Store) sessionKey(id string) string { return fmt.Sprintf("%s:session:%s", s.prefix, id) }
func (s *Store) revokedKey(id string) string { return fmt.Sprintf("%s:revoked:%s", s.prefix, id) }

func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	if sess.LastActivity.IsZero() {
		sess.LastActivity = time.Now().UTC()
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.sessionKey(sess.ID), b, s.ttl).Err()
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	b, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Refresh stamps last activity and slides the record's TTL. Missing
// records are reported so the gateway can force re-authentication.
func (s *Store) Refresh(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastActivity = time.Now().UTC()
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.sessionKey(id), b, s.ttl).Err()
}

func (s *Store) Destroy(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.sessionKey(id)).Err()
}

// Revoke destroys the record and leaves a tombstone so already-issued
// tokens for this session are rejected until they would have expired
// anyway.
func (s *Store) Revoke(ctx context.Context, id string) error {
	if err := s.Destroy(ctx, id); err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.revokedKey(id), "1", s.ttl).Err()
}

// IsRevoked implements auth.RevocationChecker.
func (s *Store) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.revokedKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
