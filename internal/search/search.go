// Package search queries the Google Custom Search JSON API.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/research-scraper/internal/clock/system"
	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/metrics"
	"github.com/JakeFAU/research-scraper/internal/telemetry"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 5 * time.Second
	maxResultsPerQuery  = 10
)

// Config holds credentials and retry pacing.
type Config struct {
	APIKey          string
	EngineID        string
	MaxRetries      int
	InitialDelay    time.Duration
	ResultsPerQuery int
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient replaces the default transport. API key auth is then the
	// client's responsibility.
	HTTPClient *http.Client
}

// Options narrow a single query.
type Options struct {
	// LastNDays restricts results to the past n days when positive.
	LastNDays int
	// Extra is forwarded as additional query parameters.
	Extra map[string]string
}

// Client runs searches with bounded retries.
type Client struct {
	cfg    Config
	svc    *customsearch.Service
	policy *crawler.ExponentialRetryPolicy
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Client. Credentials are checked on each Search so a client
// can be constructed before configuration is complete.
func New(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Client, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.ResultsPerQuery <= 0 || cfg.ResultsPerQuery > maxResultsPerQuery {
		cfg.ResultsPerQuery = maxResultsPerQuery
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.ClientOption{}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &Client{
		cfg:    cfg,
		svc:    svc,
		policy: crawler.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.InitialDelay),
		clock:  clock,
		logger: logger,
	}, nil
}

// Search returns ranked results for query. Missing credentials fail before
// any request. When every attempt fails the result is empty, not an error;
// only cancellation is returned.
func (c *Client) Search(ctx context.Context, query string, opts Options) ([]crawler.SearchResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: search api key is not set", crawler.ErrMissingCredentials)
	}
	if strings.TrimSpace(c.cfg.EngineID) == "" {
		return nil, fmt.Errorf("%w: search engine id (cx) is not set", crawler.ErrMissingCredentials)
	}
	logger := c.logger.With(zap.String("query", query))
	ctx, span := telemetry.Tracer().Start(ctx, "search.Query", trace.WithAttributes(
		attribute.String("search.query", query),
		attribute.Int("search.last_n_days", opts.LastNDays),
	))
	results, err := c.search(ctx, logger, span, query, opts)
	telemetry.EndSpan(span, err)
	return results, err
}

func (c *Client) search(
	ctx context.Context,
	logger *zap.Logger,
	span trace.Span,
	query string,
	opts Options,
) ([]crawler.SearchResult, error) {
	attempts := c.policy.MaxRetries()
	for attempt := 1; attempt <= attempts; attempt++ {
		span.SetAttributes(attribute.Int("search.attempts", attempt))
		if attempt > 1 {
			if err := c.clock.Sleep(ctx, c.policy.Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		results, err := c.do(ctx, query, opts)
		if err == nil {
			metrics.ObserveSearchRequest("success")
			logger.Info("search succeeded", zap.Int("results", len(results)))
			return results, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.ObserveSearchRequest("error")
		logger.Warn("search attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}
	metrics.ObserveSearchRequest("exhausted")
	logger.Warn("search retries exhausted")
	span.AddEvent("retries_exhausted")
	return []crawler.SearchResult{}, nil
}

func (c *Client) do(ctx context.Context, query string, opts Options) ([]crawler.SearchResult, error) {
	call := c.svc.Cse.List().Context(ctx).Cx(c.cfg.EngineID).Q(query).Num(int64(c.cfg.ResultsPerQuery))
	if opts.LastNDays > 0 {
		call = call.DateRestrict(DateRestrict(opts.LastNDays))
	}
	params := make([]googleapi.CallOption, 0, len(opts.Extra))
	for k, v := range opts.Extra {
		params = append(params, googleapi.QueryParameter(k, v))
	}
	resp, err := call.Do(params...)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty search response")
	}
	results := make([]crawler.SearchResult, 0, len(resp.Items))
	for i, item := range resp.Items {
		if item == nil {
			continue
		}
		results = append(results, crawler.SearchResult{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
			Rank:    i + 1,
		})
	}
	return results, nil
}

// DateRestrict formats the dateRestrict value for the past n days.
func DateRestrict(n int) string {
	return fmt.Sprintf("d%d", n)
}
