// Package gcs mirrors stored documents to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"hash/crc32"
	"maps"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config selects the bucket and the caching policy of mirrored objects.
type Config struct {
	Bucket string
	// CacheControl is set on every object when non-empty.
	CacheControl string
}

// BlobStore writes document objects to a GCS bucket. Each upload carries a
// CRC32C checksum so the service rejects corrupted transfers.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	cacheControl string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client:       client,
		bucket:       cfg.Bucket,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads obj with its attributes as object metadata and returns a
// gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, obj crawler.BlobObject) (string, error) {
	if strings.TrimSpace(obj.Path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(obj.Path).NewWriter(ctx)
	writer.ContentType = obj.ContentType
	writer.CacheControl = s.cacheControl
	if len(obj.Attributes) > 0 {
		writer.Metadata = maps.Clone(obj.Attributes)
	}
	writer.CRC32C = crc32.Checksum(obj.Data, castagnoli)
	writer.SendCRC32C = true

	if _, err := writer.Write(obj.Data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", obj.Path, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", obj.Path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", obj.Path, err)
	}
	return s.URI(obj.Path), nil
}

// URI returns the gs:// address of path in the bucket.
func (s *BlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, path)
}
