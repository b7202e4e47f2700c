package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidResetToken indicates a reset token that is unknown, already
	// used, or expired.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

// MemoryResetTokenStore keeps reset tokens in memory (single instance only).
type MemoryResetTokenStore struct {
	mu     sync.Mutex
	tokens map[string]resetEntry // token hash -> entry
}

type resetEntry struct {
	userID string
	expiry time.Time
}

// NewMemoryResetTokenStore constructs an in-memory reset token store.
func NewMemoryResetTokenStore() *MemoryResetTokenStore {
	return &MemoryResetTokenStore{tokens: make(map[string]resetEntry)}
}

// NewToken issues a single-use reset token for the user.
func (s *MemoryResetTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[resetTokenHash(token)] = resetEntry{
		userID: userID,
		expiry: time.Now().UTC().Add(ttl),
	}
	s.mu.Unlock()
	return token, nil
}

// Consume validates the token, deletes it, and returns the owning user.
func (s *MemoryResetTokenStore) Consume(token string) (string, error) {
	hash := resetTokenHash(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[hash]
	if !ok {
		return "", ErrInvalidResetToken
	}
	delete(s.tokens, hash)
	if time.Now().UTC().After(entry.expiry) {
		return "", ErrInvalidResetToken
	}
	return entry.userID, nil
}

// RedisResetTokenStore stores reset tokens in Redis; the TTL doubles as the
// expiry check.
type RedisResetTokenStore struct {
	client *redis.Client
}

// NewRedisResetTokenStore builds a Redis-backed reset token store.
func NewRedisResetTokenStore(addr, password string) *RedisResetTokenStore {
	return &RedisResetTokenStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// NewToken issues a single-use reset token for the user.
func (s *RedisResetTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, resetTokenKey(resetTokenHash(token)), userID, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Consume validates the token, deletes it, and returns the owning user.
// GETDEL makes use-once atomic across instances.
func (s *RedisResetTokenStore) Consume(token string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	userID, err := s.client.GetDel(ctx, resetTokenKey(resetTokenHash(token))).Result()
	if err == redis.Nil {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrInvalidResetToken
	}
	return userID, nil
}

func generateResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func resetTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetTokenKey(hash string) string {
	return "reset:token:" + hash
}
