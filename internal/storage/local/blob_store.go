package local

import (
	"context"
	"fmt"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

// BlobConfig captures the parameters for the local filesystem blob store.
type BlobConfig struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes mirrored artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a new local filesystem-backed blob store.
func NewBlobStore(cfg BlobConfig) (*BlobStore, error) {
	if err := ensureWritableDir(cfg.BaseDir); err != nil {
		return nil, err
	}
	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// PutObject writes obj.Data under the base directory and returns a file://
// URI. Content type and attributes have no filesystem equivalent and are
// dropped; the document's own metadata object carries its provenance.
func (s *BlobStore) PutObject(ctx context.Context, obj crawler.BlobObject) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	fullPath, err := resolvePath(s.baseDir, obj.Path)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(fullPath, obj.Data); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
