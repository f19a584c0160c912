package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edubridge/classquiz/internal/clock"
)

// Store keeps one conversation per user. Conversations expire after a
// period without turns.
type Store interface {
	// Load returns the user's conversation, or nil if there is none.
	Load(ctx context.Context, userID string) (*Conversation, error)
	// Save stores c and restarts its expiry.
	Save(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, userID string) error
}

// RedisStore keeps conversations as JSON values with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*Conversation, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	var c Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(c.UserID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisStore) key(userID string) string {
	return "chat:conversation:" + userID
}

// MemoryStore keeps conversations in process. It is used when no Redis is
// configured.
type MemoryStore struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	c       Conversation
	expires time.Time
}

func NewMemoryStore(clk clock.Clock, ttl time.Duration) *MemoryStore {
	return &MemoryStore{clock: clk, ttl: ttl, items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[userID]
	if !ok {
		return nil, nil
	}
	if !s.clock.Now().Before(it.expires) {
		delete(s.items, userID)
		return nil, nil
	}
	c := it.c
	c.Turns = append([]Turn(nil), it.c.Turns...)
	return &c, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for id, it := range s.items {
		if !now.Before(it.expires) {
			delete(s.items, id)
		}
	}
	stored := *c
	stored.Turns = append([]Turn(nil), c.Turns...)
	s.items[c.UserID] = memoryItem{c: stored, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
	return nil
}

// Len returns the number of stored conversations, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
