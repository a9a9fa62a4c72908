package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"expirysnap/internal/models"
)

// SQLStore keeps session and image metadata in a relational database
// (sqlite or mysql, whichever storage.Open was given).
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SQLStore{db: db, ttl: ttl}
}

func (s *SQLStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?)`,
		session.ID, session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: create session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: get session: %v", ErrStoreUnavailable, err)
	}
	// Expired rows are invisible even before the sweep deletes them.
	if time.Now().UTC().Sub(session.CreatedAt.UTC()) > s.ttl {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *SQLStore) AddImage(ctx context.Context, img *models.Image) error {
	if img == nil || img.ID == "" || img.SessionID == "" {
		return errors.New("image id and session id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (id, session_id, filename, content_type, blob_ref, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		img.ID, img.SessionID, img.Filename, img.ContentType, img.BlobRef, img.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: add image: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) ListImages(ctx context.Context, sessionID string) ([]models.Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, filename, content_type, blob_ref, created_at FROM images WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.SessionID, &img.Filename, &img.ContentType, &img.BlobRef, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan image: %v", ErrStoreUnavailable, err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *SQLStore) CountImages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE session_id = ?`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count images: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStoreUnavailable, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM images WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete images: %v", ErrStoreUnavailable, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrStoreUnavailable, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ExpiredSessions lists sessions strictly older than cutoff. A session
// created exactly at the cutoff is still visible to GetSession, so it
// must not be swept yet.
func (s *SQLStore) ExpiredSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at FROM sessions WHERE created_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: expired sessions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.ID, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrStoreUnavailable, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
