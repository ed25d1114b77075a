package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// BlobStore keeps uploaded report bytes on disk under <root>/uploads.
type BlobStore struct {
	dir string
}

// NewBlobStore creates <root>/uploads if needed.
func NewBlobStore(root string) (*BlobStore, error) {
	dir := filepath.Join(root, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Dir is the directory blobs are written to.
func (b *BlobStore) Dir() string { return b.dir }

// Save writes data under a fresh random name and returns its path. The
// caller's filename is never used on disk.
func (b *BlobStore) Save(data []byte) (string, error) {
	path := filepath.Join(b.dir, uuid.NewString()+".html")
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit upload: %w", err)
	}
	return path, nil
}

// Read returns the stored bytes.
func (b *BlobStore) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes a blob. A blob that is already gone is not an error.
func (b *BlobStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
