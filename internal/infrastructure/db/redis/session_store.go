package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// SessionStore keeps live sessions in Redis so a token can be revoked before
// it expires. Keys expire together with the session.
// Key format: session:<session_id>
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewSessionStore creates a SessionStore wrapping the given Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

// Save stores s until its expiry. An already expired session is not stored.
func (s *SessionStore) Save(ctx context.Context, sess *domain.Session) error {
	ttl := sessionTTL(sess, s.now())
	if ttl <= 0 {
		return fmt.Errorf("save session: %w", domain.ErrSessionNotFound)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Find returns domain.ErrSessionNotFound for unknown or expired sessions.
func (s *SessionStore) Find(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		return nil, domain.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return "session:" + id
}

// sessionTTL is the time left before sess expires. Sessions without an
// expiry are kept for a day.
func sessionTTL(sess *domain.Session, now time.Time) time.Duration {
	if sess.ExpiresAt.IsZero() {
		return 24 * time.Hour
	}
	return sess.ExpiresAt.Sub(now)
}
