package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/hash/sha256"
	"github.com/JakeFAU/research-scraper/internal/progress"
	pubmemory "github.com/JakeFAU/research-scraper/internal/publisher/memory"
	"github.com/JakeFAU/research-scraper/internal/storage/local"
	"github.com/JakeFAU/research-scraper/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// scriptedFetcher fails each URL failures[url] times before succeeding.
// A negative count fails forever.
type scriptedFetcher struct {
	mu       sync.Mutex
	clock    *fakeClock
	failures map[string]int
	calls    map[string][]time.Time
	inFlight int
	maxSeen  int
	hold     time.Duration
}

func newScriptedFetcher(clock *fakeClock, failures map[string]int) *scriptedFetcher {
	return &scriptedFetcher{clock: clock, failures: failures, calls: map[string][]time.Time{}}
}

func (f *scriptedFetcher) Fetch(_ context.Context, rawURL string, useRetries bool) (*crawler.FetchResult, error) {
	if useRetries {
		return nil, errors.New("scheduler must own retries")
	}
	f.mu.Lock()
	f.calls[rawURL] = append(f.calls[rawURL], f.clock.Now())
	attempt := len(f.calls[rawURL])
	budget := f.failures[rawURL]
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if budget < 0 || attempt <= budget {
		return nil, nil
	}
	return &crawler.FetchResult{
		URL:        rawURL,
		Content:    "<html><body>" + rawURL + "</body></html>",
		Strategy:   crawler.StrategyHTTP,
		StatusCode: 200,
	}, nil
}

func (f *scriptedFetcher) Calls(rawURL string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls[rawURL]...)
}

func newLocalStore(t *testing.T) *local.Store {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New(), nil)
	require.NoError(t, err)
	return store
}

func testConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Timeout:      time.Second,
		TickInterval: 100 * time.Millisecond,
		Concurrency:  1,
	}
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newScriptedFetcher(clock, nil)
	store := newLocalStore(t)
	s, err := New(testConfig(), fetcher, store, nil, nil, clock, nil)
	require.NoError(t, err)

	urls := []string{"https://b.example.com/", "https://a.example.com/"}
	report, err := s.Run(context.Background(), "run-1", urls)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com/", "https://b.example.com/"}, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Pending)
	assert.Zero(t, report.Retries)

	docs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, u := range urls {
		assert.Equal(t, crawler.TaskSucceeded, report.Tasks[u].State)
		assert.Zero(t, report.Tasks[u].RetryCount)
		assert.Contains(t, report.Documents, u)
	}
}

func TestRunRecoversBeforeBudgetExhausted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	u := "https://flaky.example.com/"
	cfg := testConfig()
	fetcher := newScriptedFetcher(clock, map[string]int{u: cfg.MaxRetries - 1})
	s, err := New(cfg, fetcher, newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", []string{u})
	require.NoError(t, err)

	task := report.Tasks[u]
	assert.Equal(t, crawler.TaskSucceeded, task.State)
	assert.Equal(t, cfg.MaxRetries-1, task.RetryCount)
	assert.Equal(t, []string{u}, report.Succeeded)
	assert.Len(t, fetcher.Calls(u), cfg.MaxRetries)
}

func TestRunExhaustsBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	bad := "https://down.example.com/"
	good := "https://up.example.com/"
	cfg := testConfig()
	fetcher := newScriptedFetcher(clock, map[string]int{bad: -1})
	store := newLocalStore(t)
	s, err := New(cfg, fetcher, store, nil, nil, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", []string{bad, good})
	require.NoError(t, err)

	assert.Equal(t, []string{bad}, report.Failed)
	assert.Equal(t, []string{good}, report.Succeeded)
	assert.Equal(t, crawler.TaskFailed, report.Tasks[bad].State)
	assert.Equal(t, cfg.MaxRetries, report.Tasks[bad].RetryCount)
	assert.Len(t, fetcher.Calls(bad), cfg.MaxRetries)
	assert.Equal(t, cfg.MaxRetries, report.Retries)
	assert.NotContains(t, report.Documents, bad)

	docs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, good, docs[0].URL)
}

func TestRunRespectsBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	u := "https://slow.example.com/"
	cfg := testConfig()
	cfg.MaxRetries = 4
	cfg.InitialDelay = 2 * time.Second
	fetcher := newScriptedFetcher(clock, map[string]int{u: -1})
	s, err := New(cfg, fetcher, newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), "run-1", []string{u})
	require.NoError(t, err)

	calls := fetcher.Calls(u)
	require.Len(t, calls, cfg.MaxRetries)
	for n := 1; n < len(calls); n++ {
		gap := calls[n].Sub(calls[n-1])
		want := cfg.InitialDelay * time.Duration(1<<(n-1))
		assert.GreaterOrEqual(t, gap, want, "retry %d", n)
		assert.Less(t, gap, want+cfg.TickInterval, "retry %d", n)
	}
}

type failingStore struct{}

func (failingStore) Write(context.Context, string, string) (crawler.StoredDocument, error) {
	return crawler.StoredDocument{}, errors.New("disk full")
}

func TestRunStoreFailureCountsAsFailedAttempt(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	u := "https://example.com/"
	fetcher := newScriptedFetcher(clock, nil)
	s, err := New(testConfig(), fetcher, failingStore{}, nil, nil, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", []string{u})
	require.NoError(t, err)
	assert.Equal(t, []string{u}, report.Failed)
	assert.Empty(t, report.Documents)
}

func TestRunRecordsAndPublishes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	u := "https://example.com/cpi"
	index := memory.NewDocumentIndex()
	pub := pubmemory.New()
	cfg := testConfig()
	cfg.Topic = "documents"
	s, err := New(cfg, newScriptedFetcher(clock, nil), newLocalStore(t), index, pub, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-9", []string{u})
	require.NoError(t, err)
	require.Equal(t, []string{u}, report.Succeeded)

	records := index.Records("run-9")
	require.Len(t, records, 1)
	assert.Equal(t, u, records[0].URL)
	assert.Equal(t, sha256.SumString(u), records[0].ContentHash)
	assert.Equal(t, crawler.StrategyHTTP, records[0].Strategy)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "documents", msgs[0].Topic)
	event, ok := msgs[0].Payload.(crawler.DocumentStoredEvent)
	require.True(t, ok)
	assert.Equal(t, "run-9", event.RunID)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pub := pubmemory.New()
	pub.FailWith(errors.New("broker down"))
	cfg := testConfig()
	cfg.Topic = "documents"
	s, err := New(cfg, newScriptedFetcher(clock, nil), newLocalStore(t), nil, pub, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", []string{"https://example.com/"})
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 1)
}

func TestRunCanceledReturnsPartialReport(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	u := "https://down.example.com/"
	s, err := New(testConfig(), newScriptedFetcher(clock, map[string]int{u: -1}), newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := s.Run(ctx, "run-1", []string{u})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{u}, report.Pending)
	assert.Equal(t, crawler.TaskPending, report.Tasks[u].State)
}

func TestRunRejectsInvalidURLBeforeFetching(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newScriptedFetcher(clock, nil)
	s, err := New(testConfig(), fetcher, newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), "run-1", []string{"https://ok.example.com/", "mailto:x@example.com"})
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
	assert.Empty(t, fetcher.Calls("https://ok.example.com/"))
}

func TestRunCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	u := "https://example.com/"
	fetcher := newScriptedFetcher(clock, nil)
	s, err := New(testConfig(), fetcher, newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", []string{u, u, u})
	require.NoError(t, err)
	assert.Equal(t, []string{u}, report.Succeeded)
	assert.Len(t, fetcher.Calls(u), 1)
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, err := New(testConfig(), newScriptedFetcher(clock, nil), newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Empty(t, report.Succeeded)
	assert.Empty(t, report.Failed)
}

func TestRunConcurrencyBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newScriptedFetcher(clock, nil)
	fetcher.hold = 20 * time.Millisecond
	cfg := testConfig()
	cfg.Concurrency = 2
	s, err := New(cfg, fetcher, newLocalStore(t), nil, nil, clock, nil)
	require.NoError(t, err)

	urls := []string{
		"https://a.example.com/", "https://b.example.com/",
		"https://c.example.com/", "https://d.example.com/",
	}
	report, err := s.Run(context.Background(), "run-1", urls)
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 4)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.LessOrEqual(t, fetcher.maxSeen, 2)
	assert.GreaterOrEqual(t, fetcher.maxSeen, 1)
}

func TestEveryURLEndsInExactlyOneState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	failures := map[string]int{
		"https://a.example.com/": 0,
		"https://b.example.com/": 1,
		"https://c.example.com/": 2,
		"https://d.example.com/": 3,
		"https://e.example.com/": -1,
	}
	urls := make([]string, 0, len(failures))
	for u := range failures {
		urls = append(urls, u)
	}
	store := newLocalStore(t)
	s, err := New(testConfig(), newScriptedFetcher(clock, failures), store, nil, nil, clock, nil)
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-1", urls)
	require.NoError(t, err)
	assert.Empty(t, report.Pending)

	docs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	stored := map[string]bool{}
	for _, d := range docs {
		stored[d.URL] = true
	}
	failed := map[string]bool{}
	for _, u := range report.Failed {
		failed[u] = true
	}
	for _, u := range urls {
		assert.NotEqual(t, stored[u], failed[u], "url %s must be in exactly one outcome", u)
	}
	assert.ElementsMatch(t, []string{"https://d.example.com/", "https://e.example.com/"}, report.Failed)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newScriptedFetcher(clock, nil)
	store := newLocalStore(t)

	_, err := New(testConfig(), nil, store, nil, nil, clock, nil)
	require.Error(t, err)
	_, err = New(testConfig(), fetcher, nil, nil, nil, clock, nil)
	require.Error(t, err)
	_, err = New(testConfig(), fetcher, store, nil, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, fetcher, store, nil, nil, clock, nil)
	require.Error(t, err)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func TestRunEmitsProgress(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ok := "https://ok.example.com/"
	bad := "https://bad.example.com/page"
	fetcher := newScriptedFetcher(clock, map[string]int{bad: -1})
	cfg := testConfig()
	cfg.MaxRetries = 2
	rec := &eventRecorder{}
	s, err := New(cfg, fetcher, newLocalStore(t), nil, nil, clock, nil, WithProgress(rec))
	require.NoError(t, err)

	_, err = s.Run(context.Background(), "run-1", []string{ok, bad})
	require.NoError(t, err)

	assert.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageFetchDone,
		progress.StageFetchFailed,
		progress.StageFetchFailed,
		progress.StageTaskFailed,
		progress.StageRunDone,
	}, rec.Stages())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	done := rec.events[1]
	assert.Equal(t, ok, done.URL)
	assert.Equal(t, "ok.example.com", done.Site)
	assert.Equal(t, progress.Status2xx, done.StatusClass)
	assert.Equal(t, "http", done.Strategy)
	assert.Equal(t, 1, done.Attempt)
	assert.Positive(t, done.Bytes)

	assert.Equal(t, 2, rec.events[3].Attempt)
	assert.Equal(t, "no content", rec.events[3].Note)
	assert.Equal(t, "bad.example.com", rec.events[4].Site)

	last := rec.events[5]
	assert.Equal(t, 1, last.Succeeded)
	assert.Equal(t, 1, last.Failed)
	for _, evt := range rec.events {
		require.NoError(t, evt.Validate(), evt.Stage)
	}
}

func TestRunRecordsAttemptSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	clock := newFakeClock()
	u := "https://flaky.example.com/"
	fetcher := newScriptedFetcher(clock, map[string]int{u: 1})
	s, err := New(testConfig(), fetcher, newLocalStore(t), nil, nil, clock, nil, WithTracer(tp.Tracer("test")))
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "run-7", []string{u})
	require.NoError(t, err)
	require.Equal(t, []string{u}, report.Succeeded)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for i, span := range spans {
		assert.Equal(t, "scheduler.attempt", span.Name())
		attrs := map[string]any{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		assert.Equal(t, "run-7", attrs["run.id"])
		assert.Equal(t, int64(i+1), attrs["scheduler.attempt"])
		assert.Equal(t, i == 1, attrs["scheduler.stored"])
	}
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "no content", spans[0].Status().Description)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}
