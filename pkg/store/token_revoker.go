package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked tokens until expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}

// UserTokenRevoker is an optional capability that revokes every token a user
// holds that was issued before a cutoff.
type UserTokenRevoker interface {
	RevokeUser(userID string, since time.Time) error
	RevokedAfter(userID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revoked tokens in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenID] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RevokeUser records a revocation cutoff for the user.
func (r *MemoryTokenRevoker) RevokeUser(userID string, since time.Time) error {
	r.mu.Lock()
	r.cutoffs[userID] = since.UTC()
	r.mu.Unlock()
	return nil
}

// RevokedAfter returns the user's revocation cutoff, zero when none.
func (r *MemoryTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[userID], nil
}

// RedisTokenRevoker stores revoked tokens in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(addr, password string) *RedisTokenRevoker {
	return &RedisTokenRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// RevokeUser records a revocation cutoff for the user. The entry outlives the
// longest token TTL so every outstanding token is caught.
func (r *RedisTokenRevoker) RevokeUser(userID string, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, userCutoffKey(userID), strconv.FormatInt(since.UTC().UnixNano(), 10), 48*time.Hour).Err()
}

// RevokedAfter returns the user's revocation cutoff, zero when none.
func (r *RedisTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, userCutoffKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

func revocationKey(tokenID string) string {
	return "revoked:" + tokenID
}

func userCutoffKey(userID string) string {
	return "revoked:user:" + userID
}
