package admission

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const passTokenPrefix = "pass_"

// PassTokenStore holds at most one single-use pass per (event, client).
type PassTokenStore struct {
	rdb     redis.Cmdable
	usedTTL time.Duration // how long a consumed pass is remembered for status
}

func NewPassTokenStore(rdb redis.Cmdable, usedTTL time.Duration) *PassTokenStore {
	return &PassTokenStore{rdb: rdb, usedTTL: usedTTL}
}

// NewPassToken returns "pass_" followed by 32 random bytes in hex.
func NewPassToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return passTokenPrefix + hex.EncodeToString(buf), nil
}

// Issue writes a fresh token, replacing any previous one and resetting the TTL.
func (s *PassTokenStore) Issue(ctx context.Context, eventID, clientKey string, ttl time.Duration) (string, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return "", err
	}
	token, err := NewPassToken()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, k.pass(clientKey), token, ttl).Err(); err != nil {
		return "", fmt.Errorf("issue pass %s/%s: %w", eventID, clientKey, err)
	}
	return token, nil
}

// Peek returns the live token without consuming it.
func (s *PassTokenStore) Peek(ctx context.Context, eventID, clientKey string) (string, bool, error) {
	k, err := keysFor(eventID)
	if err != nil {
		return "", false, err
	}
	token, err := s.rdb.Get(ctx, k.pass(clientKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("peek pass %s/%s: %w", eventID, clientKey, err)
	}
	return token, true, nil
}

// ValidateAndConsume deletes the pass if and only if it equals token.  Of any
// number of concurrent callers presenting the same token exactly one gets
// true.  Absent, expired and mismatching tokens all yield false.
func (s *PassTokenStore) ValidateAndConsume(ctx context.Context, eventID, clientKey, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	k, err := keysFor(eventID)
	if err != nil {
		return false, nil
	}
	if checkClient(clientKey) != nil {
		return false, nil
	}
	n, err := consumeScript.Run(ctx, s.rdb, []string{k.pass(clientKey), k.used(clientKey)}, token, s.usedTTL.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("consume pass %s/%s: %w", eventID, clientKey, err)
	}
	return n == 1, nil
}
