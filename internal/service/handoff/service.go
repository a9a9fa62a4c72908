package handoff

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"expirysnap/internal/models"
	"expirysnap/internal/store"
)

// DeepLinkFormat is the URI the secondary device opens: its camera app
// parses the session query parameter and attaches uploads to it.
const DeepLinkFormat = "expirysnap://camera?session=%s"

var ErrNoImage = errors.New("no image provided")

// Service is the handoff coordinator: it issues rendezvous tokens,
// answers poll queries, and ingests uploads from the secondary device.
type Service struct {
	store store.SessionStore
	blobs *store.BlobStore
}

// PollStatus is the read-only snapshot a polling client acts on.
type PollStatus struct {
	SessionID  string    `json:"sessionId"`
	ImageCount int       `json:"imageCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewService(sessions store.SessionStore, blobs *store.BlobStore) *Service {
	return &Service{store: sessions, blobs: blobs}
}

// StartHandoff mints a fresh rendezvous token, persists the session, and
// returns the deep link for the secondary device. The session is
// pollable from the moment this returns.
func (s *Service) StartHandoff(ctx context.Context) (*models.Session, string, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, "", err
	}
	session := &models.Session{ID: token, CreatedAt: time.Now().UTC()}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", err
	}
	return session, fmt.Sprintf(DeepLinkFormat, token), nil
}

// PollSession reports whether the session is live and how many images it
// holds. Unknown or expired ids yield store.ErrSessionNotFound.
func (s *Service) PollSession(ctx context.Context, sessionID string) (*PollStatus, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountImages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &PollStatus{SessionID: session.ID, ImageCount: count, CreatedAt: session.CreatedAt}, nil
}

// FetchSessionImages returns the session's images with payloads inlined.
// Images whose blob cannot be read anymore are skipped rather than
// failing the whole fetch.
func (s *Service) FetchSessionImages(ctx context.Context, sessionID string) ([]models.SessionImage, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	metas, err := s.store.ListImages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	images := make([]models.SessionImage, 0, len(metas))
	for _, meta := range metas {
		data, err := s.blobs.Get(meta.BlobRef)
		if err != nil {
			log.Printf("skip unreadable blob %s: %v", meta.BlobRef, err)
			continue
		}
		images = append(images, models.SessionImage{
			Filename:    meta.Filename,
			ContentType: meta.ContentType,
			Data:        data,
		})
	}
	return images, nil
}

// Upload validates the session, writes the blob, then records metadata.
// A blob left behind by a failed metadata write is collected by the TTL
// sweep; no partial metadata is ever visible.
func (s *Service) Upload(ctx context.Context, sessionID, filename, contentType string, data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, ErrNoImage
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return "", 0, err
	}

	imageID := uuid.NewString()
	blobRef, err := s.blobs.Put(sessionID, imageID, filename, data)
	if err != nil {
		return "", 0, err
	}
	img := &models.Image{
		ID:          imageID,
		SessionID:   sessionID,
		Filename:    filename,
		ContentType: contentType,
		BlobRef:     blobRef,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AddImage(ctx, img); err != nil {
		return "", 0, err
	}

	count, err := s.store.CountImages(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}
	return imageID, count, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
