// Package crawler holds the domain types and small interfaces shared by the
// fetch, schedule, and store subsystems of the research scraper.
package crawler
