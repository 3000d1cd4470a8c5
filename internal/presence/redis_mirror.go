package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror writes presence flips to Redis so sibling services can show
// online indicators without holding a socket. Keys are never deleted; an
// offline user keeps a record with last_seen.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisMirror(rdb *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{rdb: rdb, prefix: prefix}
}

func (m *RedisMirror) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID string) error {
	b, _ := json.Marshal(map[string]any{"online": true, "last_seen": time.Now().Unix()})
	return m.rdb.Set(ctx, m.key(userID), b, 0).Err()
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	b, _ := json.Marshal(map[string]any{"online": false, "last_seen": lastSeen.Unix()})
	return m.rdb.Set(ctx, m.key(userID), b, 0).Err()
}
