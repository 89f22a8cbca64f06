package crawler

import (
	"context"
	"time"
)

// Fetcher is a single fetch strategy: one attempt, no retries.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// CompletenessDetector flags bot-challenge or JS-required stub pages.
type CompletenessDetector interface {
	Incomplete(content string) bool
}

// ContentFetcher fetches a URL with strategy fallback. A nil result with a
// nil error means every strategy failed.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string, useRetries bool) (*FetchResult, error)
}

// RobotsPolicy reports whether robots.txt permits fetching rawURL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RateLimiter blocks until a request to rawURL is allowed.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// DocumentStore persists raw fetched content.
type DocumentStore interface {
	Write(ctx context.Context, url, content string) (StoredDocument, error)
}

// DocumentIndex records stored documents for later querying.
type DocumentIndex interface {
	RecordDocument(ctx context.Context, record DocumentRecord) error
}

// BlobObject is one artifact written to a blob store.
type BlobObject struct {
	Path        string
	ContentType string
	Data        []byte
	// Attributes describe the document the object belongs to. Backends that
	// support object metadata store them alongside the data.
	Attributes map[string]string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, obj BlobObject) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists API run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Queue provides enqueue/dequeue semantics for scrape runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes hex digests used as storage keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and waits (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
