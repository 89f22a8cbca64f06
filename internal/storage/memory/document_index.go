package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

// DocumentIndex records stored documents in-memory.
type DocumentIndex struct {
	mu      sync.RWMutex
	records []crawler.DocumentRecord
}

// NewDocumentIndex constructs an empty index.
func NewDocumentIndex() *DocumentIndex {
	return &DocumentIndex{}
}

// RecordDocument appends a record.
func (i *DocumentIndex) RecordDocument(_ context.Context, record crawler.DocumentRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = append(i.records, record)
	return nil
}

// Records returns a copy of every record, optionally filtered by run.
func (i *DocumentIndex) Records(runID string) []crawler.DocumentRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]crawler.DocumentRecord, 0, len(i.records))
	for _, rec := range i.records {
		if runID == "" || rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out
}
