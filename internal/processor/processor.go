// Package processor converts a directory of stored raw documents into
// derived text files.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/transform"
)

// Source lists stored raw documents.
type Source interface {
	LoadAll(ctx context.Context) ([]crawler.Document, error)
}

// Sink persists derived text for a URL.
type Sink interface {
	WriteMarkdown(ctx context.Context, url, text string) (string, error)
}

// Summary counts what a pass produced.
type Summary struct {
	Documents    int `json:"documents"`
	Written      int `json:"written"`
	SkippedEmpty int `json:"skipped_empty"`
	Links        int `json:"links"`
}

// Processor runs the transformer over every stored document.
type Processor struct {
	transformer *transform.Transformer
	logger      *zap.Logger
}

// New returns a Processor.
func New(transformer *transform.Transformer, logger *zap.Logger) (*Processor, error) {
	if transformer == nil {
		return nil, errors.New("processor: transformer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{transformer: transformer, logger: logger}, nil
}

// ProcessDirectory loads every document from in and writes its text to out.
// A corrupt input store aborts the pass; empty text is skipped.
func (p *Processor) ProcessDirectory(ctx context.Context, in Source, out Sink) (Summary, error) {
	docs, err := in.LoadAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load documents: %w", err)
	}
	summary := Summary{Documents: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		content := doc.Content
		text, err := p.transformer.ToTextFrom(doc.URL, &content)
		if err != nil {
			return summary, fmt.Errorf("transform %s: %w", doc.URL, err)
		}
		summary.Links += len(p.transformer.ExtractLinks(&content))
		if text == nil || strings.TrimSpace(*text) == "" {
			summary.SkippedEmpty++
			p.logger.Debug("no text extracted", zap.String("url", doc.URL))
			continue
		}
		path, err := out.WriteMarkdown(ctx, doc.URL, *text)
		if err != nil {
			return summary, fmt.Errorf("write text for %s: %w", doc.URL, err)
		}
		summary.Written++
		p.logger.Debug("text written", zap.String("url", doc.URL), zap.String("path", path))
	}
	p.logger.Info("processing finished",
		zap.Int("documents", summary.Documents),
		zap.Int("written", summary.Written),
		zap.Int("skipped_empty", summary.SkippedEmpty),
		zap.Int("links", summary.Links),
	)
	return summary, nil
}
