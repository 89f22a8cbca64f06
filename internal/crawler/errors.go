package crawler

import "errors"

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
	// ErrMissingCredentials is returned before any network call when a
	// required secret is not configured.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrCorruptStore is returned when persisted content lacks valid metadata.
	ErrCorruptStore = errors.New("corrupt store")
	// ErrNotFound is returned by stores for unknown identifiers.
	ErrNotFound = errors.New("not found")
	// ErrQueueFull is returned when a bounded queue rejects work.
	ErrQueueFull = errors.New("queue full")
)
