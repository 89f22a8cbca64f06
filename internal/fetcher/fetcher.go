// Package fetcher implements the content fetcher: a lightweight HTTP attempt,
// completeness detection, and fallback to the headless renderer.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/metrics"
	"github.com/JakeFAU/research-scraper/internal/telemetry"
)

var errEmptyBody = errors.New("empty response body")

// Config controls the internal retry loop used when the caller asks for retries.
type Config struct {
	MaxRetries        int
	InitialRetryDelay time.Duration
}

// ContentFetcher fetches a URL with the primary strategy and falls back to
// the secondary one when the result is absent or incomplete.
type ContentFetcher struct {
	primary   crawler.Fetcher
	secondary crawler.Fetcher
	detector  crawler.CompletenessDetector
	limiter   crawler.RateLimiter
	clock     crawler.Clock
	policy    *crawler.ExponentialRetryPolicy
	robots    crawler.RobotsPolicy
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option customizes a ContentFetcher.
type Option func(*ContentFetcher)

// WithRobots checks robots before rendering. The primary strategy enforces
// robots.txt on its own, so the check only guards the fallback.
func WithRobots(policy crawler.RobotsPolicy) Option {
	return func(f *ContentFetcher) {
		f.robots = policy
	}
}

// WithTracer overrides the tracer used for fetch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(f *ContentFetcher) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

// New wires a ContentFetcher. secondary, detector, and limiter are optional.
func New(
	cfg Config,
	primary crawler.Fetcher,
	secondary crawler.Fetcher,
	detector crawler.CompletenessDetector,
	limiter crawler.RateLimiter,
	clock crawler.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*ContentFetcher, error) {
	if primary == nil {
		return nil, errors.New("primary fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &ContentFetcher{
		primary:   primary,
		secondary: secondary,
		detector:  detector,
		limiter:   limiter,
		clock:     clock,
		policy:    crawler.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.InitialRetryDelay),
		tracer:    telemetry.Tracer(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the best content obtained for rawURL, or nil when every
// strategy failed. Errors are reserved for malformed URLs and cancellation.
// A deadline that expires during rendering still returns the primary content.
// With useRetries each strategy gets its own retry budget; without it each
// strategy is attempted exactly once.
func (f *ContentFetcher) Fetch(ctx context.Context, rawURL string, useRetries bool) (*crawler.FetchResult, error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.Fetch", trace.WithAttributes(attribute.String("url.full", rawURL)))
	result, err := f.fetch(ctx, span, rawURL, useRetries)
	if result != nil {
		span.SetAttributes(
			attribute.String("fetch.strategy", string(result.Strategy)),
			attribute.Int("http.response.status_code", result.StatusCode),
		)
	}
	telemetry.EndSpan(span, err)
	return result, err
}

func (f *ContentFetcher) fetch(ctx context.Context, span trace.Span, rawURL string, useRetries bool) (*crawler.FetchResult, error) {
	if _, err := crawler.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	logger := f.logger.With(zap.String("url", rawURL))

	primary, err := f.run(ctx, logger, f.primary, crawler.StrategyHTTP, rawURL, useRetries)
	if err != nil {
		return nil, err
	}

	reason := ""
	switch {
	case primary == nil:
		reason = "primary_failed"
	case f.incomplete(primary.Content):
		reason = "incomplete"
	default:
		return primary, nil
	}

	if f.secondary == nil {
		if primary != nil {
			logger.Warn("content looks incomplete and no renderer is configured")
		}
		return primary, nil
	}

	span.SetAttributes(attribute.String("fetch.fallback_reason", reason))
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		span.AddEvent("robots_denied")
		metrics.ObserveFallback("robots_denied")
		logger.Info("robots.txt disallows rendering", zap.String("reason", reason))
		return primary, nil
	}

	metrics.ObserveFallback(reason)
	logger.Info("falling back to renderer", zap.String("reason", reason))
	rendered, err := f.run(ctx, logger, f.secondary, crawler.StrategyRender, rawURL, useRetries)
	if err != nil {
		if primary == nil || !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Warn("renderer ran out of time; keeping incomplete primary content", zap.Error(err))
		return primary, nil
	}
	if rendered != nil {
		return rendered, nil
	}
	if primary != nil {
		logger.Warn("renderer failed; keeping incomplete primary content")
		return primary, nil
	}
	logger.Warn("all fetch strategies failed")
	return nil, nil
}

func (f *ContentFetcher) incomplete(content string) bool {
	if f.detector == nil {
		return strings.TrimSpace(content) == ""
	}
	return f.detector.Incomplete(content)
}

// run drives one strategy through its attempts. It returns an error only
// when ctx is done.
func (f *ContentFetcher) run(
	ctx context.Context,
	logger *zap.Logger,
	strategy crawler.Fetcher,
	name crawler.StrategyName,
	rawURL string,
	useRetries bool,
) (*crawler.FetchResult, error) {
	attempts := 1
	if useRetries {
		attempts += f.policy.MaxRetries()
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := f.policy.Backoff(attempt - 1)
			logger.Debug("retrying fetch",
				zap.String("strategy", string(name)),
				zap.Int("retry", attempt-1),
				zap.Duration("delay", delay),
			)
			if err := f.clock.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, err)
			}
		}
		result, err := f.attempt(ctx, strategy, name, rawURL, attempt)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, ctxErr)
		}
		logger.Warn("fetch attempt failed",
			zap.String("strategy", string(name)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}
	return nil, nil
}

func (f *ContentFetcher) attempt(
	ctx context.Context,
	strategy crawler.Fetcher,
	name crawler.StrategyName,
	rawURL string,
	attempt int,
) (result *crawler.FetchResult, err error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.attempt", trace.WithAttributes(
		attribute.String("fetch.strategy", string(name)),
		attribute.Int("fetch.attempt", attempt),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	resp, err := strategy.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	elapsed := time.Since(start)
	if err == nil && len(resp.Body) == 0 {
		err = errEmptyBody
	}
	if err != nil {
		metrics.ObserveFetchAttempt(string(name), "error", elapsed)
		return nil, err
	}
	metrics.ObserveFetchAttempt(string(name), "success", elapsed)
	return &crawler.FetchResult{
		URL:        rawURL,
		Content:    string(resp.Body),
		Strategy:   name,
		StatusCode: resp.StatusCode,
		Duration:   resp.Duration,
	}, nil
}
