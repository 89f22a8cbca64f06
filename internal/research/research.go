// Package research chains query generation, web search, scraping, and text
// extraction into one run driven by a research objective.
package research

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/processor"
	"github.com/JakeFAU/research-scraper/internal/scheduler"
	"github.com/JakeFAU/research-scraper/internal/search"
)

const (
	defaultMaxQueries = 3
	defaultMaxURLs    = 30
)

// QueryGenerator proposes search queries for an objective.
type QueryGenerator interface {
	Generate(ctx context.Context, objective string) ([]crawler.QueryVariation, error)
}

// Searcher runs one web search.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]crawler.SearchResult, error)
}

// Scraper fetches and stores a batch of URLs.
type Scraper interface {
	Run(ctx context.Context, runID string, urls []string) (scheduler.Report, error)
}

// Extractor derives text from stored documents.
type Extractor interface {
	ProcessDirectory(ctx context.Context, in processor.Source, out processor.Sink) (processor.Summary, error)
}

// Config bounds the fan-out of a run.
type Config struct {
	MaxQueries int
	MaxURLs    int
	LastNDays  int
	// BlockedHosts drops search results whose host matches; see
	// crawler.NewHostBlocklist for the pattern syntax.
	BlockedHosts []string
}

// Dependencies groups the collaborators of a Pipeline. Extractor, Source,
// and Sink are optional; without them no text is derived.
type Dependencies struct {
	Generator QueryGenerator
	Searcher  Searcher
	Scraper   Scraper
	Extractor Extractor
	Source    processor.Source
	Sink      processor.Sink
	IDs       crawler.IDGenerator
}

// Result reports everything a run produced.
type Result struct {
	RunID     string                            `json:"run_id"`
	Objective string                            `json:"objective"`
	Queries   []crawler.QueryVariation          `json:"queries"`
	Searches  map[string][]crawler.SearchResult `json:"searches"`
	URLs      []string                          `json:"urls"`
	Report    scheduler.Report                  `json:"report"`
	Summary   *processor.Summary                `json:"summary,omitempty"`
}

// Pipeline executes research runs.
type Pipeline struct {
	cfg     Config
	deps    Dependencies
	blocked *crawler.HostBlocklist
	logger  *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Generator == nil:
		return nil, errors.New("research: query generator is required")
	case deps.Searcher == nil:
		return nil, errors.New("research: searcher is required")
	case deps.Scraper == nil:
		return nil, errors.New("research: scraper is required")
	case deps.IDs == nil:
		return nil, errors.New("research: id generator is required")
	}
	if deps.Extractor != nil && (deps.Source == nil || deps.Sink == nil) {
		return nil, errors.New("research: extractor needs a source and a sink")
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = defaultMaxQueries
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = defaultMaxURLs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		blocked: crawler.NewHostBlocklist(cfg.BlockedHosts),
		logger:  logger,
	}, nil
}

// Run generates queries, searches each, scrapes the collected links, and
// extracts text. Query generation failures and missing search credentials
// abort the run; other per-query search failures are skipped.
func (p *Pipeline) Run(ctx context.Context, objective string) (Result, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := p.logger.With(zap.String("run_id", runID))
	result := Result{RunID: runID, Objective: objective, Searches: map[string][]crawler.SearchResult{}}

	queries, err := p.deps.Generator.Generate(ctx, objective)
	if err != nil {
		return result, fmt.Errorf("generate queries: %w", err)
	}
	if len(queries) > p.cfg.MaxQueries {
		queries = queries[:p.cfg.MaxQueries]
	}
	result.Queries = queries

	seen := make(map[string]struct{})
	for _, q := range queries {
		hits, err := p.deps.Searcher.Search(ctx, q.Query, search.Options{LastNDays: p.cfg.LastNDays})
		if err != nil {
			if errors.Is(err, crawler.ErrMissingCredentials) || ctx.Err() != nil {
				return result, fmt.Errorf("search %q: %w", q.Query, err)
			}
			logger.Warn("search failed; skipping query", zap.String("query", q.Query), zap.Error(err))
			continue
		}
		result.Searches[q.Query] = hits
		for _, hit := range hits {
			if len(result.URLs) >= p.cfg.MaxURLs {
				break
			}
			if _, err := crawler.ValidateURL(hit.Link); err != nil {
				logger.Debug("skipping unusable search result", zap.String("link", hit.Link))
				continue
			}
			if p.blocked.BlockedURL(hit.Link) {
				logger.Debug("skipping blocked host", zap.String("link", hit.Link))
				continue
			}
			if _, ok := seen[hit.Link]; ok {
				continue
			}
			seen[hit.Link] = struct{}{}
			result.URLs = append(result.URLs, hit.Link)
		}
	}
	logger.Info("search phase finished",
		zap.Int("queries", len(queries)),
		zap.Int("urls", len(result.URLs)),
	)

	if len(result.URLs) == 0 {
		logger.Warn("no urls to scrape")
		return result, nil
	}

	report, err := p.deps.Scraper.Run(ctx, runID, result.URLs)
	result.Report = report
	if err != nil {
		return result, fmt.Errorf("scrape: %w", err)
	}

	if p.deps.Extractor == nil {
		return result, nil
	}
	summary, err := p.deps.Extractor.ProcessDirectory(ctx, p.deps.Source, p.deps.Sink)
	if err != nil {
		return result, fmt.Errorf("extract text: %w", err)
	}
	result.Summary = &summary
	return result, nil
}
