// Package local implements the filesystem content store and a local blob store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

const (
	// DefaultContentExt is the extension used for raw fetched content.
	DefaultContentExt = ".html"
	// MetadataExt is the extension of the sibling metadata file.
	MetadataExt = ".json"
	// MarkdownExt is the extension of derived text output.
	MarkdownExt = ".md"
)

// Config captures the parameters for the content store.
type Config struct {
	// BaseDir is the directory documents are written to.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// ContentExt overrides the raw content extension.
	ContentExt string `mapstructure:"content_ext" yaml:"content_ext"`
}

// Store persists raw content as <hash><ext> with a <hash>.json sibling.
type Store struct {
	baseDir    string
	contentExt string
	hasher     crawler.Hasher
	logger     *zap.Logger
}

// New creates the base directory if needed and returns a Store.
func New(cfg Config, hasher crawler.Hasher, logger *zap.Logger) (*Store, error) {
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if err := ensureWritableDir(cfg.BaseDir); err != nil {
		return nil, err
	}
	ext := cfg.ContentExt
	if ext == "" {
		ext = DefaultContentExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == MetadataExt || ext == MarkdownExt {
		return nil, fmt.Errorf("content extension %s collides with derived files", ext)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		baseDir:    cfg.BaseDir,
		contentExt: ext,
		hasher:     hasher,
		logger:     logger,
	}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// Key returns the content hash for url.
func (s *Store) Key(url string) (string, error) {
	key, err := s.hasher.Hash([]byte(url))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return key, nil
}

// Write persists content for url, overwriting any previous write for the same URL.
// The metadata file is written first so a crash never leaves content without metadata.
func (s *Store) Write(ctx context.Context, url, content string) (crawler.StoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return crawler.StoredDocument{}, fmt.Errorf("context canceled: %w", err)
	}
	key, err := s.Key(url)
	if err != nil {
		return crawler.StoredDocument{}, err
	}
	fileName := key + s.contentExt
	metaName := key + MetadataExt

	contentPath, err := resolvePath(s.baseDir, fileName)
	if err != nil {
		return crawler.StoredDocument{}, err
	}
	metaPath, err := resolvePath(s.baseDir, metaName)
	if err != nil {
		return crawler.StoredDocument{}, err
	}

	payload, err := json.MarshalIndent(crawler.DocumentMetadata{URL: url, FileName: fileName}, "", "  ")
	if err != nil {
		return crawler.StoredDocument{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeFileAtomic(metaPath, payload); err != nil {
		return crawler.StoredDocument{}, fmt.Errorf("write metadata: %w", err)
	}
	if err := writeFileAtomic(contentPath, []byte(content)); err != nil {
		return crawler.StoredDocument{}, fmt.Errorf("write content: %w", err)
	}

	s.logger.Debug("document stored",
		zap.String("url", url),
		zap.String("content_hash", key),
		zap.Int("bytes", len(content)),
	)
	return crawler.StoredDocument{
		URL:          url,
		ContentHash:  key,
		FileName:     fileName,
		MetadataFile: metaName,
		Path:         contentPath,
	}, nil
}

// WriteMarkdown writes derived text for url to <hash>.md and returns its path.
func (s *Store) WriteMarkdown(ctx context.Context, url, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	key, err := s.Key(url)
	if err != nil {
		return "", err
	}
	path, err := resolvePath(s.baseDir, key+MarkdownExt)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(text)); err != nil {
		return "", fmt.Errorf("write markdown: %w", err)
	}
	return path, nil
}

// LoadAll reads every stored document under the store's directory.
func (s *Store) LoadAll(ctx context.Context) ([]crawler.Document, error) {
	return loadAll(ctx, s.baseDir, s.contentExt)
}

// LoadAll reads every <hash>.html document directly in dir, pairing each with
// its metadata sibling. Subdirectories are not read. A missing or malformed
// sibling fails the whole load.
func LoadAll(ctx context.Context, dir string) ([]crawler.Document, error) {
	return loadAll(ctx, dir, DefaultContentExt)
}

func loadAll(ctx context.Context, dir, ext string) ([]crawler.Document, error) {
	docs := make([]crawler.Document, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if d.IsDir() {
			if path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || filepath.Ext(path) != ext {
			return nil
		}
		doc, err := readDocument(path, ext)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load documents from %s: %w", dir, err)
	}
	return docs, nil
}

func readDocument(contentPath, ext string) (crawler.Document, error) {
	metaPath := strings.TrimSuffix(contentPath, ext) + MetadataExt
	// #nosec G304 -- metaPath is derived from a walked path under the store root.
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return crawler.Document{}, fmt.Errorf("%w: missing metadata %s", crawler.ErrCorruptStore, metaPath)
		}
		return crawler.Document{}, fmt.Errorf("read metadata %s: %w", metaPath, err)
	}
	var meta crawler.DocumentMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return crawler.Document{}, fmt.Errorf("%w: malformed metadata %s: %w", crawler.ErrCorruptStore, metaPath, err)
	}
	if meta.URL == "" {
		return crawler.Document{}, fmt.Errorf("%w: metadata %s has no url", crawler.ErrCorruptStore, metaPath)
	}
	if meta.FileName != "" && meta.FileName != filepath.Base(contentPath) {
		return crawler.Document{}, fmt.Errorf("%w: metadata %s names %s", crawler.ErrCorruptStore, metaPath, meta.FileName)
	}
	// #nosec G304 -- contentPath comes from walking the store root.
	content, err := os.ReadFile(contentPath)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("read content %s: %w", contentPath, err)
	}
	return crawler.Document{URL: meta.URL, Content: string(content)}, nil
}
