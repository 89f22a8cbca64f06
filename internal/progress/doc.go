// Package progress streams scheduler milestones to pluggable sinks through a
// non-blocking, batching Hub.
package progress
