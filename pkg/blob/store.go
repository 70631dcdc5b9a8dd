// Package blob is the boundary to binary object storage. Evidence bytes
// are stored content-addressed under their SHA-256 so identical uploads
// are idempotent. A blob-store failure aborts artifact acceptance before
// any evidence record is created; this package never retries.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Ref locates a stored blob.
type Ref struct {
	URL       string // retrievable location
	StorageID string // content address, "sha256:<hex>"
}

// Store persists and retrieves opaque evidence blobs.
type Store interface {
	// Store persists data and returns its retrievable location and
	// content-addressed storage ID.
	Store(ctx context.Context, data []byte, contentType string) (Ref, error)
	// Get retrieves data by its storage ID.
	Get(ctx context.Context, storageID string) ([]byte, error)
	// Exists checks presence by storage ID.
	Exists(ctx context.Context, storageID string) (bool, error)
}

// FileStore is a filesystem-backed Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a content-addressed store under baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(ctx context.Context, data []byte, contentType string) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashStr := rawDigest(data)
	path := filepath.Join(s.baseDir, hashStr+".blob")
	ref := Ref{URL: "file://" + path, StorageID: "sha256:" + hashStr}

	// Idempotent: identical bytes are already on disk.
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	// Write to temp, then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Ref{}, fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(ctx context.Context, storageID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := parseStorageID(storageID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.baseDir, rawHash+".blob")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", storageID)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, storageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := parseStorageID(storageID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, rawHash+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func rawDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func parseStorageID(storageID string) (string, error) {
	if len(storageID) < 7 || storageID[:7] != "sha256:" {
		return "", fmt.Errorf("invalid storage ID format: %s", storageID)
	}
	rawHash := storageID[7:]
	if _, err := hex.DecodeString(rawHash); err != nil {
		return "", fmt.Errorf("invalid storage ID hex: %w", err)
	}
	return rawHash, nil
}
