package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionIndex decorates a Store with a redis lookup for the join-code hot
// path. Active session codes are mirrored as `session:code:{code}` → session
// id with a TTL refreshed on every write; GetSessionByCode resolves through
// the mirror first and falls back to the inner store on a miss. All mirror
// writes are best-effort — redis being down degrades to the store's own
// lookup, never to an error.
type SessionIndex struct {
	app.Store
	client *redis.Client
	ttl    time.Duration
}

func NewSessionIndex(inner app.Store, client *redis.Client, ttl time.Duration) *SessionIndex {
	return &SessionIndex{Store: inner, client: client, ttl: ttl}
}

func (s *SessionIndex) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := s.Store.CreateSession(ctx, session); err != nil {
		return err
	}
	s.mirror(ctx, *session)
	return nil
}

func (s *SessionIndex) UpdateSession(ctx context.Context, session *domain.Session) error {
	if err := s.Store.UpdateSession(ctx, session); err != nil {
		return err
	}
	s.mirror(ctx, *session)
	return nil
}

func (s *SessionIndex) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	id, err := s.client.Get(ctx, s.key(code)).Result()
	if err == nil && id != "" {
		session, err := s.Store.GetSession(ctx, id)
		if err == nil && session.IsActive {
			return session, nil
		}
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Session{}, err
		}
		// Stale mirror entry; drop it and resolve from the store.
		_ = s.client.Del(ctx, s.key(code)).Err()
	}
	return s.Store.GetSessionByCode(ctx, code)
}

func (s *SessionIndex) mirror(ctx context.Context, session domain.Session) {
	if session.IsActive {
		_ = s.client.Set(ctx, s.key(session.Code), session.ID, s.ttl).Err()
		return
	}
	_ = s.client.Del(ctx, s.key(session.Code)).Err()
}

func (s *SessionIndex) key(code string) string {
	return "session:code:" + code
}
