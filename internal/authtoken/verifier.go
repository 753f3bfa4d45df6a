// Package authtoken resolves the bearer tokens every transport (REST,
// SSE, websocket) receives into a caller identity. Session issuance
// itself belongs to an external identity service; this package only
// reads the session record that service wrote to Redis under a shared
// key convention.
package authtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopmindai/chatcore/internal/domain"
)

// ErrTokenNotFound is returned for an unknown or expired token.
var ErrTokenNotFound = errors.New("authtoken: token not found")

// session is the JSON shape the identity service writes to
// "chatcore:session:<token>" on login.
type session struct {
	UserID    domain.UserID `json:"userId"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// RedisVerifier resolves a bearer token to its session record. It
// implements the TokenVerifier interface declared independently by both
// internal/httpapi and internal/sse.
type RedisVerifier struct {
	client redis.UniversalClient
}

// NewRedisVerifier builds a RedisVerifier.
func NewRedisVerifier(client redis.UniversalClient) *RedisVerifier {
	return &RedisVerifier{client: client}
}

// Verify looks up the session Redis holds for token. A missing key and a
// stored-but-expired session are both reported as ErrTokenNotFound.
func (v *RedisVerifier) Verify(ctx context.Context, token string) (domain.UserID, time.Time, error) {
	raw, err := v.client.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, ErrTokenNotFound
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	var sess session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return 0, time.Time{}, err
	}
	if time.Now().After(sess.ExpiresAt) {
		return 0, time.Time{}, ErrTokenNotFound
	}
	return sess.UserID, sess.ExpiresAt, nil
}

func sessionKey(token string) string {
	return fmt.Sprintf("chatcore:session:%s", token)
}
