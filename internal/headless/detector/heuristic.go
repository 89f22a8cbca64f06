// Package detector decides when fetched content is a bot challenge or a
// JS-required stub that should be re-fetched with the headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultKeywords are the blocking markers scanned for when none are configured.
var DefaultKeywords = []string{"Please enable JS", "captcha", "data-cfasync", "g-recaptcha"}

// Config tunes the heuristic.
type Config struct {
	// Keywords are matched case-insensitively. Nil means DefaultKeywords.
	Keywords []string
	// MinBodyBytes flags bodies shorter than this. Zero disables the check.
	MinBodyBytes int
	// RequiredSelectors flags documents missing any of these CSS selectors.
	RequiredSelectors []string
	// DetectSPA flags single-page-app shells and script-heavy small pages.
	DetectSPA bool
	// SPAThreshold bounds the body size for the script density check.
	SPAThreshold int
}

// Heuristic implements crawler.CompletenessDetector with rule-based checks.
type Heuristic struct {
	keywords     [][]byte
	minBodyBytes int
	selectors    []string
	detectSPA    bool
	spaThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(cfg Config) *Heuristic {
	keywords := cfg.Keywords
	if keywords == nil {
		keywords = DefaultKeywords
	}
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	selectors := make([]string, 0, len(cfg.RequiredSelectors))
	for _, sel := range cfg.RequiredSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			selectors = append(selectors, sel)
		}
	}
	threshold := cfg.SPAThreshold
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{
		keywords:     lowerKeywords,
		minBodyBytes: cfg.MinBodyBytes,
		selectors:    selectors,
		detectSPA:    cfg.DetectSPA,
		spaThreshold: threshold,
	}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// Incomplete reports whether content should be re-fetched by the renderer.
func (h *Heuristic) Incomplete(content string) bool {
	if strings.TrimSpace(content) == "" {
		return true
	}
	body := []byte(content)
	switch {
	case h.minBodyBytes > 0 && len(body) < h.minBodyBytes:
		return true
	case h.containsKeywords(body):
		return true
	case h.detectSPA && h.looksLikeSPA(body):
		return true
	default:
		return h.missingSelectors(body)
	}
}

// Matched returns the configured keywords present in content, for logging.
func (h *Heuristic) Matched(content string) []string {
	lower := bytes.ToLower([]byte(content))
	var out []string
	for _, kw := range h.keywords {
		if bytes.Contains(lower, kw) {
			out = append(out, string(kw))
		}
	}
	return out
}

func (h *Heuristic) containsKeywords(body []byte) bool {
	if len(h.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range h.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (h *Heuristic) looksLikeSPA(body []byte) bool {
	if len(body) < h.spaThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (h *Heuristic) missingSelectors(body []byte) bool {
	if len(h.selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range h.selectors {
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
