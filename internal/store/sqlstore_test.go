package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"expirysnap/internal/models"
	"expirysnap/internal/storage"
)

func newTestSQLStore(t *testing.T, ttl time.Duration) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(db, ttl)
}

func TestSQLStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t, time.Hour)

	session := &models.Session{ID: "tok1", CreatedAt: time.Now().UTC()}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetSession(ctx, "tok1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "tok1" {
		t.Fatalf("got session %q", got.ID)
	}

	// A fresh session polls at zero images.
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

func TestSQLStoreExpiredSessionInvisible(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t, time.Hour)

	old := &models.Session{ID: "stale", CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	if err := s.CreateSession(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.GetSession(ctx, "stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session should be invisible, got %v", err)
	}

	// The row itself still surfaces through ExpiredSessions for the sweep.
	expired, err := s.ExpiredSessions(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("expired sessions: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Fatalf("expired list = %#v", expired)
	}
}

func TestSQLStoreTTLBoundary(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t, time.Hour)

	cutoff := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	sessions := []*models.Session{
		{ID: "at-cutoff", CreatedAt: cutoff},
		{ID: "past-cutoff", CreatedAt: cutoff.Add(-time.Second)},
		{ID: "inside-ttl", CreatedAt: cutoff.Add(5 * time.Second)},
	}
	for _, session := range sessions {
		if err := s.CreateSession(ctx, session); err != nil {
			t.Fatalf("create %s: %v", session.ID, err)
		}
	}

	// GetSession keeps a session at exactly the TTL boundary visible, so
	// the sweep must only take sessions strictly older than the cutoff: a
	// session created at the cutoff instant is not sweepable yet.
	expired, err := s.ExpiredSessions(ctx, cutoff)
	if err != nil {
		t.Fatalf("expired sessions: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "past-cutoff" {
		t.Fatalf("expired list = %#v", expired)
	}
	if _, err := s.GetSession(ctx, "inside-ttl"); err != nil {
		t.Fatalf("session inside the TTL should resolve: %v", err)
	}
}

func TestSQLStoreImages(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t, time.Hour)

	if err := s.CreateSession(ctx, &models.Session{ID: "tok1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create: %v", err)
	}

	base := time.Now().UTC()
	for i, id := range []string{"img-a", "img-b", "img-c"} {
		err := s.AddImage(ctx, &models.Image{
			ID:          id,
			SessionID:   "tok1",
			Filename:    id + ".jpg",
			ContentType: "image/jpeg",
			BlobRef:     "tok1/" + id + ".jpg",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
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
	// Upload order is preserved.
	for i, want := range []string{"img-a", "img-b", "img-c"} {
		if images[i].ID != want {
			t.Fatalf("image %d = %s, want %s", i, images[i].ID, want)
		}
	}
}

func TestSQLStoreDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t, time.Hour)

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
		t.Fatalf("%d image rows survived delete", count)
	}

	// Deleting again is a no-op, not an error.
	if err := s.DeleteSession(ctx, "tok1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
