package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BlobStore writes image payloads to the filesystem, one directory per
// session under the configured base dir. Refs are paths relative to the
// base so the metadata store never embeds absolute paths.
type BlobStore struct {
	base string
}

func NewBlobStore(base string) (*BlobStore, error) {
	if base == "" {
		return nil, errors.New("blob base dir required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create blob base dir: %w", err)
	}
	return &BlobStore{base: base}, nil
}

// Put stores the payload and returns its blob ref.
func (b *BlobStore) Put(sessionID, imageID, filename string, data []byte) (string, error) {
	if sessionID == "" || imageID == "" {
		return "", errors.New("session id and image id required")
	}
	dir := filepath.Join(b.base, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	name := imageID + filepath.Ext(filepath.Base(filename))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return filepath.Join(sessionID, name), nil
}

func (b *BlobStore) Get(ref string) ([]byte, error) {
	path, err := b.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes a blob. Missing blobs are fine: a previous interrupted
// sweep may already have removed them.
func (b *BlobStore) Delete(ref string) error {
	path, err := b.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	// prune empty directories
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// DeleteSession drops the whole session directory, payloads included.
func (b *BlobStore) DeleteSession(sessionID string) error {
	if sessionID == "" || strings.Contains(sessionID, string(os.PathSeparator)) || sessionID == "." || sessionID == ".." {
		return errors.New("invalid session id")
	}
	if err := os.RemoveAll(filepath.Join(b.base, sessionID)); err != nil {
		return fmt.Errorf("delete session blobs %s: %w", sessionID, err)
	}
	return nil
}

// SessionDirs lists session directories older than cutoff. The sweeper
// uses this to find blobs whose session record is already gone.
func (b *BlobStore) SessionDirs(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(b.base)
	if err != nil {
		return nil, fmt.Errorf("read blob base dir: %w", err)
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

func (b *BlobStore) resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("blob ref required")
	}
	path := filepath.Join(b.base, filepath.Clean(ref))
	if !strings.HasPrefix(path, filepath.Clean(b.base)+string(os.PathSeparator)) {
		return "", fmt.Errorf("blob ref %s escapes base dir", ref)
	}
	return path, nil
}
