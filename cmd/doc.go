// Package cmd defines the research-scraper command line.
//
// Architecture overview:
//   - scrape: URLs are validated, deduplicated, and handed to the scheduler, which owns retry timing. Each attempt
//     calls the content fetcher once per strategy: a Colly HTTP fetch first, then a chromedp render when the first
//     result is missing or looks incomplete. Successful pages land in the local store as <sha256(url)>.html with a
//     <sha256(url)>.json metadata sibling, optionally mirrored to GCS, indexed in Postgres, and announced on Pub/Sub.
//   - process: every stored page is converted to text (or lossy markdown) and written next to its hash as .md.
//   - search / research: a Gemini model turns an objective into ranked queries, Custom Search turns queries into
//     links, and the links flow through scrape and process.
//   - serve: the same scheduler behind an HTTP API with a bounded run queue and a fixed worker pool.
//
// Configuration comes from an optional YAML file plus SCRAPER_* environment variables; a .env file is loaded first
// when present. Logs go to stderr as zap JSON so command output on stdout stays machine readable.
package cmd
