package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
)

// redisSessionStore implements SessionStore using Redis
type redisSessionStore struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisSessionStore creates a new Redis-based session store
func NewRedisSessionStore(client *redis.Client, logger *zap.Logger) SessionStore {
	return &redisSessionStore{client: client, logger: logger, now: time.Now}
}

func userSessionKey(username string) string {
	return UserPrefix + username + ":session"
}

// Create stores s until it expires and revokes the user's previous session
func (s *redisSessionStore) Create(ctx context.Context, sess identity.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.SessionID)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	previous, err := s.client.Get(ctx, userSessionKey(sess.Username)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session lookup failed: %w", err)
	}

	pipe := s.client.TxPipeline()
	if previous != "" && previous != sess.SessionID {
		pipe.Del(ctx, SessionPrefix+previous)
	}
	pipe.Set(ctx, SessionPrefix+sess.SessionID, data, ttl)
	pipe.Set(ctx, userSessionKey(sess.Username), sess.SessionID, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("session creation failed",
			zap.String("session_id", sess.SessionID),
			zap.String("username", sess.Username),
			zap.Error(err))
		return fmt.Errorf("session creation failed: %w", err)
	}

	s.logger.Debug("session created",
		zap.String("session_id", sess.SessionID),
		zap.String("username", sess.Username))
	return nil
}

func (s *redisSessionStore) Get(ctx context.Context, sessionID string) (*identity.Session, error) {
	data, err := s.client.Get(ctx, SessionPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session get failed: %w", err)
	}

	var sess identity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return &sess, nil
}

func (s *redisSessionStore) Revoke(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SessionPrefix+sessionID)
	userKey := userSessionKey(sess.Username)
	if current, err := s.client.Get(ctx, userKey).Result(); err == nil && current == sessionID {
		pipe.Del(ctx, userKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session revoke failed: %w", err)
	}

	s.logger.Debug("session revoked", zap.String("session_id", sessionID))
	return nil
}

// RevokeUser drops the session recorded for username
func (s *redisSessionStore) RevokeUser(ctx context.Context, username string) error {
	userKey := userSessionKey(username)
	current, err := s.client.Get(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("session lookup failed: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SessionPrefix+current)
	pipe.Del(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session revoke failed: %w", err)
	}

	s.logger.Debug("user sessions revoked", zap.String("username", username))
	return nil
}

// memorySessionStore keeps sessions in process when no redis is configured
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]identity.Session
	byUser   map[string]string
	now      func() time.Time
}

// NewMemorySessionStore creates an in-process session store
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{
		sessions: make(map[string]identity.Session),
		byUser:   make(map[string]string),
		now:      time.Now,
	}
}

func (m *memorySessionStore) Create(_ context.Context, sess identity.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.Expired(m.now()) {
		return fmt.Errorf("session %s already expired", sess.SessionID)
	}
	if previous, ok := m.byUser[sess.Username]; ok {
		delete(m.sessions, previous)
	}
	m.sessions[sess.SessionID] = sess
	m.byUser[sess.Username] = sess.SessionID
	return nil
}

func (m *memorySessionStore) Get(_ context.Context, sessionID string) (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Expired(m.now()) {
		delete(m.sessions, sessionID)
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (m *memorySessionStore) Revoke(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[sessionID]; ok {
		delete(m.sessions, sessionID)
		if m.byUser[sess.Username] == sessionID {
			delete(m.byUser, sess.Username)
		}
	}
	return nil
}

func (m *memorySessionStore) RevokeUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byUser[username]; ok {
		delete(m.sessions, id)
		delete(m.byUser, username)
	}
	return nil
}
