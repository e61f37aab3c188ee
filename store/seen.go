package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// SeenStore is the auxiliary dedup domain for anonymous discovery feed items,
// keyed by (tag, post id). No Creator record needs to exist yet.
type SeenStore interface {
	// MarkSeen records the key and reports whether it was previously unseen.
	MarkSeen(tag, postID string) (bool, error)
}

const seenKeyPrefix = "siren:seen"

type RedisSeenStore struct {
	client *redis.Client
}

func NewRedisSeenStore(client *redis.Client) *RedisSeenStore {
	return &RedisSeenStore{client: client}
}

func (s *RedisSeenStore) MarkSeen(tag, postID string) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", seenKeyPrefix, tag, postID)

	fresh, err := s.client.SetNX(key, time.Now().Unix(), 0).Result()
	if err != nil {
		return false, errors.Wrap(err, "failure marking discovery item seen")
	}
	return fresh, nil
}

// MemorySeenStore backs redis-less deployments and tests.
type MemorySeenStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{seen: make(map[string]struct{})}
}

func (s *MemorySeenStore) MarkSeen(tag, postID string) (bool, error) {
	key := tag + ":" + postID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}
