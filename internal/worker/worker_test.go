package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	queuememory "github.com/JakeFAU/research-scraper/internal/queue/memory"
	"github.com/JakeFAU/research-scraper/internal/scheduler"
	"github.com/JakeFAU/research-scraper/internal/storage/memory"
)

type fakeScraper struct {
	mu     sync.Mutex
	report scheduler.Report
	err    error
	calls  []string
}

func (f *fakeScraper) Run(_ context.Context, runID string, urls []string) (scheduler.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runID)
	r := f.report
	r.RunID = runID
	return r, f.err
}

func seedRun(t *testing.T, runs *memory.RunStore, id string, urls ...string) crawler.QueueItem {
	t.Helper()
	run := crawler.Run{
		ID:         id,
		Status:     crawler.RunStatusQueued,
		Submitted:  time.Now().UTC(),
		Parameters: crawler.RunParameters{URLs: urls},
	}
	require.NoError(t, runs.CreateRun(context.Background(), run))
	return crawler.QueueItem{RunID: id, Params: run.Parameters}
}

func TestProcessRecordsSuccess(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	item := seedRun(t, runs, "run-1", "https://a.com/", "https://b.com/")
	scraper := &fakeScraper{report: scheduler.Report{
		Succeeded: []string{"https://a.com/"},
		Failed:    []string{"https://b.com/"},
		Retries:   3,
	}}

	New(1, queuememory.NewQueue(1), runs, scraper, nil).Process(context.Background(), item)

	run, err := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	require.Equal(t, crawler.RunCounters{Succeeded: 1, Failed: 1, Retries: 3}, run.Counters)
	require.Equal(t, []string{"https://b.com/"}, run.FailedURLs)
	require.NotNil(t, run.Started)
	require.NotNil(t, run.Finished)
	require.Empty(t, run.ErrorText)
}

func TestProcessRecordsRunError(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	item := seedRun(t, runs, "run-2", "ftp://bad")
	scraper := &fakeScraper{err: crawler.ErrInvalidURL}

	New(1, queuememory.NewQueue(1), runs, scraper, nil).Process(context.Background(), item)

	run, err := runs.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
	require.Contains(t, run.ErrorText, "invalid url")
}

func TestProcessUnknownRun(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	scraper := &fakeScraper{}
	New(1, queuememory.NewQueue(1), runs, scraper, nil).Process(context.Background(), crawler.QueueItem{RunID: "missing"})
	require.Empty(t, scraper.calls)
}

func TestRunDrainsQueueUntilClosed(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	q := queuememory.NewQueue(4)
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Enqueue(context.Background(), seedRun(t, runs, id, "https://a.com/")))
	}
	q.Close()

	scraper := &fakeScraper{report: scheduler.Report{Succeeded: []string{"https://a.com/"}}}
	done := make(chan struct{})
	go func() {
		New(1, q, runs, scraper, nil).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue closed")
	}
	require.Equal(t, []string{"r1", "r2", "r3"}, scraper.calls)
	for _, id := range []string{"r1", "r2", "r3"} {
		run, err := runs.GetRun(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(1, queuememory.NewQueue(1), memory.NewRunStore(), &fakeScraper{}, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestProcessCanceledRunStillRecorded(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	item := seedRun(t, runs, "run-3", "https://a.com/")
	ctx, cancel := context.WithCancel(context.Background())
	scraper := &cancelingScraper{cancel: cancel}

	New(1, queuememory.NewQueue(1), runs, scraper, nil).Process(ctx, item)

	run, err := runs.GetRun(context.Background(), "run-3")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
	require.Empty(t, run.FailedURLs)
	require.NotEmpty(t, run.ErrorText)
}

type cancelingScraper struct{ cancel context.CancelFunc }

func (c *cancelingScraper) Run(ctx context.Context, runID string, urls []string) (scheduler.Report, error) {
	c.cancel()
	return scheduler.Report{RunID: runID, Pending: urls, Failed: []string{}}, errors.Join(ctx.Err(), context.Canceled)
}
