// Package sinks holds progress consumers: a structured log sink and a sink
// that persists run and per-site counters through a Repository.
package sinks
