package store

import (
	"context"
	"errors"
	"log"
	"time"
)

const DefaultSweepInterval = 5 * time.Minute

// Sweeper is the sole writer responsible for session expiry. Each pass
// deletes a session's blobs first, then its metadata, so an interrupted
// pass leaves at worst a partially emptied session that the next pass
// finishes. It also collects blob directories whose session record is
// already gone (failed metadata writes, redis-side key expiry).
type Sweeper struct {
	store SessionStore
	blobs *BlobStore
	ttl   time.Duration
}

func NewSweeper(store SessionStore, blobs *BlobStore, ttl time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sweeper{store: store, blobs: blobs, ttl: ttl}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Sweeper) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Printf("session sweep error: %v", err)
			}
		}
	}
}

// SweepOnce removes all expired sessions and orphaned blob directories,
// returning how many sessions were deleted. Safe to call concurrently
// with uploads to live sessions; safe to call twice.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	expired, err := s.store.ExpiredSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, session := range expired {
		if err := s.sweepSession(ctx, session.ID); err != nil {
			log.Printf("sweep session %s failed: %v", session.ID, err)
			continue
		}
		deleted++
	}

	s.collectOrphans(ctx, cutoff)
	return deleted, nil
}

// sweepSession deletes blobs before metadata so no metadata row ever
// points at a missing blob while its session is still resolvable.
func (s *Sweeper) sweepSession(ctx context.Context, sessionID string) error {
	images, err := s.store.ListImages(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, img := range images {
		if err := s.blobs.Delete(img.BlobRef); err != nil {
			return err
		}
	}
	if err := s.blobs.DeleteSession(sessionID); err != nil {
		return err
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// collectOrphans removes blob directories past the TTL whose session no
// longer resolves. Covers blobs written right before a failed metadata
// write, and redis backends where expired keys vanish on their own.
func (s *Sweeper) collectOrphans(ctx context.Context, cutoff time.Time) {
	dirs, err := s.blobs.SessionDirs(cutoff)
	if err != nil {
		log.Printf("list blob dirs failed: %v", err)
		return
	}
	for _, sessionID := range dirs {
		_, err := s.store.GetSession(ctx, sessionID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrSessionNotFound) {
			log.Printf("orphan check %s failed: %v", sessionID, err)
			continue
		}
		if err := s.blobs.DeleteSession(sessionID); err != nil {
			log.Printf("remove orphaned blobs %s failed: %v", sessionID, err)
		}
		// Metadata may still linger for sql backends when the session row
		// was removed but image rows survived an interrupted pass.
		if err := s.store.DeleteSession(ctx, sessionID); err != nil {
			log.Printf("remove orphaned metadata %s failed: %v", sessionID, err)
		}
	}
}
