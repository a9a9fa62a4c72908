package store

import (
	"context"
	"errors"
	"time"

	"expirysnap/internal/models"
)

var (
	// ErrSessionNotFound covers unknown ids and sessions past their TTL.
	// Callers treat it as terminal, never as "not yet ready".
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreUnavailable marks transient backend failures. Single calls
	// fail; retry is left to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SessionStore holds rendezvous sessions and their image metadata.
// Implementations must treat sessions older than the TTL as gone even
// before the sweep removes them.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	AddImage(ctx context.Context, img *models.Image) error
	ListImages(ctx context.Context, sessionID string) ([]models.Image, error)
	CountImages(ctx context.Context, sessionID string) (int, error)
	// DeleteSession removes the session record and all image metadata.
	// Deleting an absent session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error
	// ExpiredSessions lists sessions whose record predates cutoff,
	// including ones a previous interrupted sweep only partially removed.
	ExpiredSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error)
}

const DefaultSessionTTL = time.Hour
