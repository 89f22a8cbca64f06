package sinks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/research-scraper/internal/progress"
)

// SiteDelta is an increment to the counters kept for one
// (run, site, status class) row.
type SiteDelta struct {
	RunID       string
	Site        string
	StatusClass string
	Fetches     int64
	Bytes       int64
	At          time.Time
}

// Repository persists run lifecycle and per-site fetch counters.
type Repository interface {
	StartRun(ctx context.Context, runID string, at time.Time) error
	FinishRun(ctx context.Context, runID string, at time.Time, succeeded, failed int) error
	AddSiteStats(ctx context.Context, delta SiteDelta) error
}

// StoreSink collapses fetch events per site before writing them so a batch
// costs one write per (run, site, status class).
type StoreSink struct {
	repo Repository
}

// NewStoreSink wraps repo.
func NewStoreSink(repo Repository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Consume applies the batch in order: run starts, site deltas, then run
// completions. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[deltaKey]*SiteDelta)
	var finished []progress.Event

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.TS); err != nil {
				return fmt.Errorf("start run %s: %w", evt.RunID, err)
			}
		case progress.StageFetchDone, progress.StageFetchFailed:
			accumulate(deltas, evt)
		case progress.StageRunDone:
			finished = append(finished, evt)
		}
	}

	for _, d := range sortedDeltas(deltas) {
		if err := s.repo.AddSiteStats(ctx, *d); err != nil {
			return fmt.Errorf("add site stats %s/%s: %w", d.RunID, d.Site, err)
		}
	}
	for _, evt := range finished {
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, evt.Succeeded, evt.Failed); err != nil {
			return fmt.Errorf("finish run %s: %w", evt.RunID, err)
		}
	}
	return nil
}

// Close is a no-op; the repository's owner closes it.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type deltaKey struct {
	runID       string
	site        string
	statusClass string
}

func accumulate(deltas map[deltaKey]*SiteDelta, evt progress.Event) {
	class := evt.StatusClass
	if evt.Stage == progress.StageFetchFailed && class == "" {
		class = progress.StatusError
	}
	key := deltaKey{runID: evt.RunID, site: evt.Site, statusClass: string(class)}
	d, ok := deltas[key]
	if !ok {
		d = &SiteDelta{RunID: key.runID, Site: key.site, StatusClass: key.statusClass}
		deltas[key] = d
	}
	d.Fetches++
	d.Bytes += evt.Bytes
	if evt.TS.After(d.At) {
		d.At = evt.TS
	}
}

func sortedDeltas(deltas map[deltaKey]*SiteDelta) []*SiteDelta {
	out := make([]*SiteDelta, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].StatusClass < out[j].StatusClass
	})
	return out
}
