// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// TaskState represents the lifecycle state of a FetchTask.
type TaskState string

// Task states. Succeeded and Failed are terminal.
const (
	TaskPending   TaskState = "pending"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// FetchTask tracks one URL submitted to the scheduler.
type FetchTask struct {
	URL         string     `json:"url"`
	RetryCount  int        `json:"retry_count"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	State       TaskState  `json:"state"`
}

// StrategyName identifies which fetch strategy produced content.
type StrategyName string

// Fetch strategies in fallback order.
const (
	StrategyHTTP   StrategyName = "http"
	StrategyRender StrategyName = "render"
)

// FetchRequest captures everything a strategy needs to fetch a URL.
type FetchRequest struct {
	RunID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Strategy   StrategyName
}

// FetchResult is the content handed back by the content fetcher. A nil
// *FetchResult means the fetch failed this attempt.
type FetchResult struct {
	URL        string
	Content    string
	Strategy   StrategyName
	StatusCode int
	Duration   time.Duration
}

// DocumentMetadata is the sibling metadata persisted next to raw content.
type DocumentMetadata struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// StoredDocument describes a persisted document.
type StoredDocument struct {
	URL          string `json:"url"`
	ContentHash  string `json:"content_hash"`
	FileName     string `json:"file_name"`
	MetadataFile string `json:"metadata_file"`
	Path         string `json:"path"`
}

// Document pairs a URL with its raw content as read back from the store.
type Document struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// DocumentRecord is indexed for each stored document.
type DocumentRecord struct {
	RunID       string       `json:"run_id"`
	URL         string       `json:"url"`
	ContentHash string       `json:"content_hash"`
	FileName    string       `json:"file_name"`
	Strategy    StrategyName `json:"strategy"`
	StatusCode  int          `json:"status_code"`
	FetchedAt   time.Time    `json:"fetched_at"`
}

// SearchResult is one ranked hit returned by the search client.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Rank    int    `json:"rank"`
}

// QueryVariation is a generated search query with its relevancy score.
type QueryVariation struct {
	Query          string `json:"query" validate:"required"`
	RelevancyScore int    `json:"relevancy_score" validate:"min=0,max=100"`
}

// RunStatus represents the lifecycle state of an API-submitted run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunParameters captures what a client asked to scrape.
type RunParameters struct {
	URLs []string `json:"urls"`
}

// RunCounters tracks per-run outcomes.
type RunCounters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retries   int `json:"retries"`
}

// Run represents the metadata persisted for each submitted scrape run.
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters RunParameters `json:"parameters"`
	Counters   RunCounters   `json:"counters"`
	FailedURLs []string      `json:"failed_urls,omitempty"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Params    RunParameters
	Submitted int64
}

// DocumentStoredEvent is published after a document is persisted.
type DocumentStoredEvent struct {
	RunID       string       `json:"run_id"`
	URL         string       `json:"url"`
	ContentHash string       `json:"content_hash"`
	FileName    string       `json:"file_name"`
	Strategy    StrategyName `json:"strategy"`
	StoredAt    time.Time    `json:"stored_at"`
}

// EventType returns the event name used as a message attribute.
func (DocumentStoredEvent) EventType() string {
	return "document.stored"
}
