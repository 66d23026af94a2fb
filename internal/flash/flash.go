// Package flash keeps one-shot notifications shown on the page after a
// redirect (the "toast" of the form views).
package flash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const DefaultTTL = 5 * time.Minute

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Store hands out an id for a message and returns it exactly once.
type Store interface {
	Put(ctx context.Context, msg Message) (string, error)
	Pop(ctx context.Context, id string) (Message, bool, error)
}

type entry struct {
	msg     Message
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (s *MemoryStore) Put(_ context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Expired entries are dropped lazily on write.
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[id] = entry{msg: msg, expires: now.Add(s.ttl)}
	return id, nil
}

func (s *MemoryStore) Pop(_ context.Context, id string) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Message{}, false, nil
	}
	delete(s.entries, id)
	if s.now().After(e.expires) {
		return Message{}, false, nil
	}
	return e.msg, true, nil
}

const redisKeyPrefix = "flash:"

// RedisStore shares messages between several web instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, msg Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode flash message: %w", err)
	}

	id := uuid.NewString()
	if err := s.client.Set(ctx, redisKeyPrefix+id, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store flash message in Redis: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Pop(ctx context.Context, id string) (Message, bool, error) {
	key := redisKeyPrefix + id

	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Message{}, false, fmt.Errorf("failed to read flash message from Redis: %w", err)
	}

	data, err := get.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("failed to read flash message from Redis: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false, fmt.Errorf("failed to decode flash message: %w", err)
	}
	return msg, true, nil
}

// NewRedisClient creates a client and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}
