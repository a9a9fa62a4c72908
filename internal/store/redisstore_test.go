package store

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"expirysnap/internal/config"
	"expirysnap/internal/models"
	"expirysnap/internal/redis"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *redis.Client) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed store tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if raw := client.Raw(); raw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	rs, err := NewRedisStore(client, ttl)
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	return rs, client
}

func TestRedisStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, time.Hour)

	session := &models.Session{ID: "tok1", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetSession(ctx, "tok1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "tok1" || !got.CreatedAt.Equal(session.CreatedAt) {
		t.Fatalf("got session %#v", got)
	}

	count, err := s.CountImages(ctx, "tok1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh session has %d images", count)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown id: got %v", err)
	}
}

func TestRedisStoreImagesKeepUploadOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, time.Hour)

	if err := s.CreateSession(ctx, &models.Session{ID: "tok1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{"img-a", "img-b", "img-c"} {
		err := s.AddImage(ctx, &models.Image{
			ID: id, SessionID: "tok1", Filename: id + ".jpg",
			ContentType: "image/jpeg", BlobRef: "tok1/" + id + ".jpg", CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	count, err := s.CountImages(ctx, "tok1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d", count)
	}

	images, err := s.ListImages(ctx, "tok1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("listed %d images", len(images))
	}
	for i, want := range []string{"img-a", "img-b", "img-c"} {
		if images[i].ID != want {
			t.Fatalf("image %d = %s, want %s", i, images[i].ID, want)
		}
	}
}

func TestRedisStoreImageTTLPinnedToSession(t *testing.T) {
	ctx := context.Background()
	s, client := newTestRedisStore(t, time.Hour)

	if err := s.CreateSession(ctx, &models.Session{ID: "tok1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.AddImage(ctx, &models.Image{
		ID: "img-a", SessionID: "tok1", Filename: "a.jpg",
		ContentType: "image/jpeg", BlobRef: "tok1/img-a.jpg", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add image: %v", err)
	}

	// Metadata never outlives its session key.
	sessionTTL, err := client.TTL(ctx, "handoff:session:tok1")
	if err != nil {
		t.Fatalf("session ttl: %v", err)
	}
	imagesTTL, err := client.TTL(ctx, "handoff:images:tok1")
	if err != nil {
		t.Fatalf("images ttl: %v", err)
	}
	if sessionTTL <= 0 {
		t.Fatalf("session key has no ttl: %v", sessionTTL)
	}
	if imagesTTL <= 0 || imagesTTL > sessionTTL {
		t.Fatalf("images ttl %v not pinned to session ttl %v", imagesTTL, sessionTTL)
	}
}

func TestRedisStoreSessionExpires(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, time.Second)

	if err := s.CreateSession(ctx, &models.Session{ID: "tok1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.AddImage(ctx, &models.Image{
		ID: "img-a", SessionID: "tok1", Filename: "a.jpg",
		ContentType: "image/jpeg", BlobRef: "tok1/img-a.jpg", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add image: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		_, err := s.GetSession(ctx, "tok1")
		if errors.Is(err, ErrSessionNotFound) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never expired: %v", err)
		case <-time.After(100 * time.Millisecond):
		}
	}

	// Image metadata went with it.
	count, err := s.CountImages(ctx, "tok1")
	if err != nil {
		t.Fatalf("count after expiry: %v", err)
	}
	if count != 0 {
		t.Fatalf("%d image entries outlived the session", count)
	}
}

func TestRedisStoreDeleteSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, time.Hour)

	if err := s.CreateSession(ctx, &models.Session{ID: "tok1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.AddImage(ctx, &models.Image{
		ID: "img-a", SessionID: "tok1", Filename: "a.jpg",
		ContentType: "image/jpeg", BlobRef: "tok1/img-a.jpg", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add image: %v", err)
	}

	if err := s.DeleteSession(ctx, "tok1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSession(ctx, "tok1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session survived delete: %v", err)
	}
	count, err := s.CountImages(ctx, "tok1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("%d image entries survived delete", count)
	}

	// Deleting again is a no-op.
	if err := s.DeleteSession(ctx, "tok1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
