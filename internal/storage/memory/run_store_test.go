package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := crawler.Run{
		ID:         "run-1",
		Status:     crawler.RunStatusQueued,
		Parameters: crawler.RunParameters{URLs: []string{"https://example.com"}},
	}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Fatal("expected duplicate run error")
	}

	run.Status = crawler.RunStatusRunning
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun running error = %v", err)
	}
	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Started == nil || got.Finished != nil {
		t.Fatalf("expected only start timestamp, got %+v", got)
	}

	got.Status = crawler.RunStatusSucceeded
	got.Counters = crawler.RunCounters{Succeeded: 1}
	if err := store.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun succeeded error = %v", err)
	}
	final, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if final.Status != crawler.RunStatusSucceeded || final.Finished == nil || final.Counters.Succeeded != 1 {
		t.Fatalf("unexpected final run %+v", final)
	}

	final.Parameters.URLs[0] = "modified"
	again, _ := store.GetRun(ctx, run.ID)
	if again.Parameters.URLs[0] != "https://example.com" {
		t.Fatal("expected GetRun to return a copy")
	}
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateRun(context.Background(), crawler.Run{ID: "missing"}); !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
