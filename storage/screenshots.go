package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// ScreenshotStore files session screenshots under per-session keys.
type ScreenshotStore struct {
	blob BlobStorage
}

// NewScreenshotStore wraps blob. A nil blob yields a nil store.
func NewScreenshotStore(blob BlobStorage) *ScreenshotStore {
	if blob == nil {
		return nil
	}
	return &ScreenshotStore{blob: blob}
}

// ActionKey is the generated key for the n-th capture (1-based) of the
// action at index.
func ActionKey(sessionID uuid.UUID, index, n int) string {
	return fmt.Sprintf("%s/action-%d-%d.png", sessionID, index, n)
}

// FinalKey is the key of a session's closing screenshot.
func FinalKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s/final.png", sessionID)
}

// SaveAction stores a screenshot taken by an action. A non-empty name is used
// as the key, with ".png" appended when it has no extension.
func (s *ScreenshotStore) SaveAction(ctx context.Context, sessionID uuid.UUID, index, n int, name string, png []byte) (string, error) {
	key := ActionKey(sessionID, index, n)
	if name = strings.TrimSpace(name); name != "" {
		key = name
		if !strings.Contains(name[strings.LastIndex(name, "/")+1:], ".") {
			key += ".png"
		}
	}
	return s.save(ctx, key, png)
}

// SaveFinal stores a session's closing screenshot.
func (s *ScreenshotStore) SaveFinal(ctx context.Context, sessionID uuid.UUID, png []byte) (string, error) {
	return s.save(ctx, FinalKey(sessionID), png)
}

func (s *ScreenshotStore) save(ctx context.Context, key string, png []byte) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := s.blob.Upload(ctx, key, bytes.NewReader(png)); err != nil {
		return "", fmt.Errorf("save screenshot %s: %w", key, err)
	}
	return key, nil
}

// Load reads a stored screenshot back.
func (s *ScreenshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.blob.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read screenshot %s: %w", key, err)
	}
	return data, nil
}

// URL returns where a stored screenshot can be fetched from.
func (s *ScreenshotStore) URL(ctx context.Context, key string) (string, error) {
	return s.blob.GetURL(ctx, key)
}
