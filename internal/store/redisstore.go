package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"expirysnap/internal/models"
	"expirysnap/internal/redis"
)

const (
	sessionKeyPrefix = "handoff:session:"
	imagesKeyPrefix  = "handoff:images:"
)

// RedisStore keeps sessions and image metadata under TTL'd redis keys, so
// expiry is enforced by redis itself rather than by row timestamps. Blob
// cleanup for sessions redis has already dropped rides the sweeper's
// orphan-directory pass.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, payload, s.ttl); err != nil {
		return fmt.Errorf("%w: create session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: get session: %v", ErrStoreUnavailable, err)
	}
	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) AddImage(ctx context.Context, img *models.Image) error {
	if img == nil || img.ID == "" || img.SessionID == "" {
		return errors.New("image id and session id required")
	}
	payload, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	key := imagesKeyPrefix + img.SessionID
	if err := s.client.RPush(ctx, key, payload); err != nil {
		return fmt.Errorf("%w: add image: %v", ErrStoreUnavailable, err)
	}
	// Image metadata never outlives its session key.
	sessionTTL, err := s.client.TTL(ctx, sessionKeyPrefix+img.SessionID)
	if err != nil || sessionTTL <= 0 {
		sessionTTL = s.ttl
	}
	if err := s.client.Expire(ctx, key, sessionTTL); err != nil {
		return fmt.Errorf("%w: expire images: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ListImages(ctx context.Context, sessionID string) ([]models.Image, error) {
	entries, err := s.client.LRange(ctx, imagesKeyPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %v", ErrStoreUnavailable, err)
	}
	var images []models.Image
	for _, entry := range entries {
		var img models.Image
		if err := json.Unmarshal([]byte(entry), &img); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *RedisStore) CountImages(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.LLen(ctx, imagesKeyPrefix+sessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: count images: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, imagesKeyPrefix+sessionID, sessionKeyPrefix+sessionID); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ExpiredSessions returns nothing: redis drops expired keys natively, so
// there are no stale records for the sweep to walk. Orphaned blobs are
// collected by the sweeper's directory pass instead.
func (s *RedisStore) ExpiredSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	return nil, nil
}
