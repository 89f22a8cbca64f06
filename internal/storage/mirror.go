// Package storage composes the local content store with optional remote
// mirrors. Implementations live in the subpackages.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

// Object attributes attached to every mirrored document object.
const (
	AttrSourceURL = "source-url"
	AttrURLHash   = "url-sha256"
	AttrFileName  = "file-name"
)

// MirroredStore writes to a primary store and copies each document to a blob
// store. Mirror failures are logged and never fail the write.
type MirroredStore struct {
	primary crawler.DocumentStore
	mirror  crawler.BlobStore
	prefix  string
	logger  *zap.Logger
}

// NewMirroredStore wraps primary. A nil mirror makes the store a passthrough.
func NewMirroredStore(primary crawler.DocumentStore, mirror crawler.BlobStore, prefix string, logger *zap.Logger) (*MirroredStore, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirroredStore{
		primary: primary,
		mirror:  mirror,
		prefix:  prefix,
		logger:  logger,
	}, nil
}

// Write persists to the primary store, then mirrors content and metadata.
func (s *MirroredStore) Write(ctx context.Context, url, content string) (crawler.StoredDocument, error) {
	doc, err := s.primary.Write(ctx, url, content)
	if err != nil {
		return crawler.StoredDocument{}, err
	}
	if s.mirror == nil {
		return doc, nil
	}

	attrs := map[string]string{
		AttrSourceURL: url,
		AttrURLHash:   doc.ContentHash,
		AttrFileName:  doc.FileName,
	}
	contentURI, err := s.mirror.PutObject(ctx, crawler.BlobObject{
		Path:        path.Join(s.prefix, doc.FileName),
		ContentType: "text/html; charset=utf-8",
		Data:        []byte(content),
		Attributes:  attrs,
	})
	if err != nil {
		s.logger.Warn("mirror content failed", zap.String("url", url), zap.Error(err))
		return doc, nil
	}
	meta, err := json.Marshal(crawler.DocumentMetadata{URL: url, FileName: doc.FileName})
	if err != nil {
		s.logger.Warn("marshal mirror metadata failed", zap.String("url", url), zap.Error(err))
		return doc, nil
	}
	if _, err := s.mirror.PutObject(ctx, crawler.BlobObject{
		Path:        path.Join(s.prefix, doc.MetadataFile),
		ContentType: "application/json",
		Data:        meta,
		Attributes:  attrs,
	}); err != nil {
		s.logger.Warn("mirror metadata failed", zap.String("url", url), zap.Error(err))
		return doc, nil
	}
	s.logger.Debug("document mirrored", zap.String("url", url), zap.String("uri", contentURI))
	return doc, nil
}
