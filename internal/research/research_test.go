package research

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/hash/sha256"
	"github.com/JakeFAU/research-scraper/internal/processor"
	"github.com/JakeFAU/research-scraper/internal/scheduler"
	"github.com/JakeFAU/research-scraper/internal/search"
	"github.com/JakeFAU/research-scraper/internal/storage/local"
	"github.com/JakeFAU/research-scraper/internal/transform"
)

type stubGenerator struct {
	queries []crawler.QueryVariation
	err     error
}

func (s stubGenerator) Generate(context.Context, string) ([]crawler.QueryVariation, error) {
	return s.queries, s.err
}

type stubSearcher struct {
	results map[string][]crawler.SearchResult
	errs    map[string]error
	calls   []string
	opts    []search.Options
}

func (s *stubSearcher) Search(_ context.Context, query string, opts search.Options) ([]crawler.SearchResult, error) {
	s.calls = append(s.calls, query)
	s.opts = append(s.opts, opts)
	if err := s.errs[query]; err != nil {
		return nil, err
	}
	return s.results[query], nil
}

type stubScraper struct {
	urls  []string
	runID string
}

func (s *stubScraper) Run(_ context.Context, runID string, urls []string) (scheduler.Report, error) {
	s.runID = runID
	s.urls = urls
	return scheduler.Report{RunID: runID, Succeeded: urls}, nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

func hits(links ...string) []crawler.SearchResult {
	out := make([]crawler.SearchResult, len(links))
	for i, l := range links {
		out[i] = crawler.SearchResult{Title: l, Link: l, Rank: i + 1}
	}
	return out
}

func queries(qs ...string) []crawler.QueryVariation {
	out := make([]crawler.QueryVariation, len(qs))
	for i, q := range qs {
		out[i] = crawler.QueryVariation{Query: q, RelevancyScore: 100 - i}
	}
	return out
}

func TestRunCollectsDedupedLinks(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: map[string][]crawler.SearchResult{
		"q1": hits("https://a.com/", "https://b.com/"),
		"q2": hits("https://b.com/", "not a url", "https://c.com/"),
		"q3": hits("https://d.com/"),
	}}
	scraper := &stubScraper{}
	p, err := New(Config{MaxQueries: 2, LastNDays: 14}, Dependencies{
		Generator: stubGenerator{queries: queries("q1", "q2", "q3")},
		Searcher:  searcher,
		Scraper:   scraper,
		IDs:       fixedIDs{},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "objective")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []string{"q1", "q2"}, searcher.calls)
	assert.Equal(t, 14, searcher.opts[0].LastNDays)
	assert.Equal(t, []string{"https://a.com/", "https://b.com/", "https://c.com/"}, res.URLs)
	assert.Equal(t, res.URLs, scraper.urls)
	assert.Equal(t, "run-1", scraper.runID)
	assert.Nil(t, res.Summary)
}

func TestRunCapsURLs(t *testing.T) {
	t.Parallel()

	links := make([]string, 0, 12)
	for i := range 12 {
		links = append(links, fmt.Sprintf("https://site%d.com/", i))
	}
	scraper := &stubScraper{}
	p, err := New(Config{MaxURLs: 5}, Dependencies{
		Generator: stubGenerator{queries: queries("q1")},
		Searcher:  &stubSearcher{results: map[string][]crawler.SearchResult{"q1": hits(links...)}},
		Scraper:   scraper,
		IDs:       fixedIDs{},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "objective")
	require.NoError(t, err)
	assert.Equal(t, links[:5], res.URLs)
}

func TestRunSkipsBlockedHosts(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{}
	p, err := New(Config{BlockedHosts: []string{"*.pinterest.com", "quora.com"}}, Dependencies{
		Generator: stubGenerator{queries: queries("q1")},
		Searcher: &stubSearcher{results: map[string][]crawler.SearchResult{
			"q1": hits("https://www.pinterest.com/pin/1", "https://quora.com/q", "https://bls.gov/cpi/"),
		}},
		Scraper: scraper,
		IDs:     fixedIDs{},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "objective")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://bls.gov/cpi/"}, res.URLs)
	assert.Len(t, res.Searches["q1"], 3)
}

func TestRunGeneratorFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("malformed model output")
	searcher := &stubSearcher{}
	p, err := New(Config{}, Dependencies{
		Generator: stubGenerator{err: boom},
		Searcher:  searcher,
		Scraper:   &stubScraper{},
		IDs:       fixedIDs{},
	}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "objective")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, searcher.calls)
}

func TestRunMissingCredentialsIsFatal(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{}
	p, err := New(Config{}, Dependencies{
		Generator: stubGenerator{queries: queries("q1", "q2")},
		Searcher:  &stubSearcher{errs: map[string]error{"q1": crawler.ErrMissingCredentials}},
		Scraper:   scraper,
		IDs:       fixedIDs{},
	}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "objective")
	require.ErrorIs(t, err, crawler.ErrMissingCredentials)
	assert.Nil(t, scraper.urls)
}

func TestRunSkipsFailedQueries(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{}
	p, err := New(Config{}, Dependencies{
		Generator: stubGenerator{queries: queries("q1", "q2")},
		Searcher: &stubSearcher{
			errs:    map[string]error{"q1": errors.New("bad gateway")},
			results: map[string][]crawler.SearchResult{"q2": hits("https://ok.com/")},
		},
		Scraper: scraper,
		IDs:     fixedIDs{},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "objective")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ok.com/"}, res.URLs)
	assert.NotContains(t, res.Searches, "q1")
}

func TestRunNoURLsSkipsScrape(t *testing.T) {
	t.Parallel()

	scraper := &stubScraper{}
	p, err := New(Config{}, Dependencies{
		Generator: stubGenerator{queries: queries("q1")},
		Searcher:  &stubSearcher{},
		Scraper:   scraper,
		IDs:       fixedIDs{},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "objective")
	require.NoError(t, err)
	assert.Empty(t, res.URLs)
	assert.Nil(t, scraper.urls)
}

type pageFetcher struct{}

func (pageFetcher) Fetch(_ context.Context, rawURL string, _ bool) (*crawler.FetchResult, error) {
	if rawURL == "https://down.com/" {
		return nil, nil
	}
	return &crawler.FetchResult{URL: rawURL, Content: "<nav>menu</nav><p>Body of " + rawURL + "</p>", Strategy: crawler.StrategyHTTP}, nil
}

type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time { return c.now }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	raw, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New(), nil)
	require.NoError(t, err)
	text, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New(), nil)
	require.NoError(t, err)

	sched, err := scheduler.New(scheduler.Config{MaxRetries: 2, InitialDelay: time.Second}, pageFetcher{}, raw, nil, nil, &instantClock{}, nil)
	require.NoError(t, err)
	tr, err := transform.New(transform.Config{})
	require.NoError(t, err)
	proc, err := processor.New(tr, nil)
	require.NoError(t, err)

	p, err := New(Config{}, Dependencies{
		Generator: stubGenerator{queries: queries("q1")},
		Searcher:  &stubSearcher{results: map[string][]crawler.SearchResult{"q1": hits("https://up.com/", "https://down.com/")}},
		Scraper:   sched,
		Extractor: proc,
		Source:    raw,
		Sink:      text,
		IDs:       fixedIDs{},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(ctx, "objective")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://up.com/"}, res.Report.Succeeded)
	assert.Equal(t, []string{"https://down.com/"}, res.Report.Failed)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 1, res.Summary.Written)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	full := Dependencies{
		Generator: stubGenerator{},
		Searcher:  &stubSearcher{},
		Scraper:   &stubScraper{},
		IDs:       fixedIDs{},
	}
	_, err := New(Config{}, full, nil)
	require.NoError(t, err)

	missing := full
	missing.Searcher = nil
	_, err = New(Config{}, missing, nil)
	require.Error(t, err)

	partial := full
	partial.Extractor = &processor.Processor{}
	_, err = New(Config{}, partial, nil)
	require.Error(t, err)
}
