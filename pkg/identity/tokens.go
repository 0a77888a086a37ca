package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dentage-research/platform/pkg/common/models"
)

var ErrSessionNotFound = errors.New("session not found")

// TokenStore maps opaque bearer tokens to authenticated users.
type TokenStore interface {
	Issue(ctx context.Context, user models.User) (string, error)
	Resolve(ctx context.Context, token string) (models.User, error)
	Revoke(ctx context.Context, token string) error
}

type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func (s *RedisTokenStore) Issue(ctx context.Context, user models.User) (string, error) {
	token := uuid.New().String()
	raw, err := json.Marshal(user)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, sessionKey(token), raw, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisTokenStore) Resolve(ctx context.Context, token string) (models.User, error) {
	raw, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.User{}, ErrSessionNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return models.User{}, ErrSessionNotFound
	}
	return user, nil
}

func (s *RedisTokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

// MemoryTokenStore backs sessions in-process when Redis is not configured.
type MemoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	ttl      time.Duration
}

type memorySession struct {
	user    models.User
	expires time.Time
}

func NewMemoryTokenStore(ttl time.Duration) *MemoryTokenStore {
	return &MemoryTokenStore{sessions: make(map[string]memorySession), ttl: ttl}
}

func (s *MemoryTokenStore) Issue(ctx context.Context, user models.User) (string, error) {
	token := uuid.New().String()
	s.mu.Lock()
	s.sessions[token] = memorySession{user: user, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryTokenStore) Resolve(ctx context.Context, token string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok || time.Now().After(session.expires) {
		delete(s.sessions, token)
		return models.User{}, ErrSessionNotFound
	}
	return session.user, nil
}

func (s *MemoryTokenStore) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}
