// Package transform strips boilerplate markup from fetched HTML, converts the
// remainder to plain text or markdown, and extracts outbound links.
package transform

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Mode selects the output representation of ToText.
type Mode string

// Supported output modes.
const (
	ModeText        Mode = "text"
	ModeMarkdown    Mode = "markdown"
	ModeReadability Mode = "readability"
)

// DefaultExcludeTags are removed, with their subtrees, before serialization.
var DefaultExcludeTags = []string{"header", "footer", "script", "style", "nav"}

// Config selects the output mode and the tags to drop.
type Config struct {
	Mode        Mode     `mapstructure:"mode"`
	ExcludeTags []string `mapstructure:"exclude_tags"`
}

// Transformer converts HTML documents. It performs no I/O.
type Transformer struct {
	mode    Mode
	exclude []string
	conv    *md.Converter
}

// New validates cfg and builds a Transformer. An empty mode means text and a
// nil ExcludeTags means DefaultExcludeTags.
func New(cfg Config) (*Transformer, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeText
	}
	switch mode {
	case ModeText, ModeMarkdown, ModeReadability:
	default:
		return nil, fmt.Errorf("transform: unknown mode %q", cfg.Mode)
	}
	exclude := cfg.ExcludeTags
	if exclude == nil {
		exclude = DefaultExcludeTags
	}
	cleaned := make([]string, 0, len(exclude))
	for _, tag := range exclude {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	t := &Transformer{mode: mode, exclude: cleaned}
	if mode == ModeMarkdown {
		t.conv = newMarkdownConverter(cleaned)
	}
	return t, nil
}

// Mode reports the configured output mode.
func (t *Transformer) Mode() Mode {
	return t.mode
}

// ToText returns nil for nil input. Otherwise it drops the excluded tags and
// serializes what remains according to the configured mode.
func (t *Transformer) ToText(doc *string) (*string, error) {
	return t.ToTextFrom("", doc)
}

// ToTextFrom is ToText with the page URL available for readability scoring.
func (t *Transformer) ToTextFrom(pageURL string, doc *string) (*string, error) {
	if doc == nil {
		return nil, nil
	}
	var (
		out string
		err error
	)
	switch t.mode {
	case ModeMarkdown:
		out, err = t.markdown(*doc)
	case ModeReadability:
		out, err = t.readable(pageURL, *doc)
	default:
		out, err = t.text(*doc)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractLinks returns the href of every anchor that has one, in document
// order with duplicates kept. Nil input yields an empty slice.
func (t *Transformer) ExtractLinks(doc *string) []string {
	return ExtractLinks(doc)
}

// ExtractLinks is the package-level form of Transformer.ExtractLinks.
func ExtractLinks(doc *string) []string {
	links := []string{}
	if doc == nil {
		return links
	}
	root, err := goquery.NewDocumentFromReader(strings.NewReader(*doc))
	if err != nil {
		return links
	}
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, href)
	})
	return links
}

func (t *Transformer) text(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	if len(t.exclude) > 0 {
		doc.Find(strings.Join(t.exclude, ",")).Remove()
	}
	var parts []string
	for _, n := range doc.Nodes {
		collectText(n, &parts)
	}
	return CollapseWhitespace(strings.Join(parts, " ")), nil
}

// collectText appends the data of every text node under n in document order.
func collectText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.TextNode:
		*parts = append(*parts, n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func (t *Transformer) readable(pageURL, raw string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		base = &url.URL{Scheme: "https", Host: "localhost", Path: "/"}
	}
	article, err := readability.FromReader(strings.NewReader(raw), base)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return t.text(raw)
	}
	return t.text(article.Content)
}

// CollapseWhitespace replaces runs of whitespace with one space and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
