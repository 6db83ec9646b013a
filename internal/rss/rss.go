// Package rss parses syndication feeds into announcement candidates.
package rss

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Entry is one feed item normalized for the ingestion pipeline.
type Entry struct {
	GUID        string
	Title       string
	Link        string
	Content     string
	PublishedAt *time.Time
}

// Parser wraps gofeed with the normalization the pipeline needs.
type Parser struct {
	inner *gofeed.Parser
}

// NewParser returns a feed parser.
func NewParser() *Parser {
	return &Parser{inner: gofeed.NewParser()}
}

// Parse decodes an RSS/Atom document into entries. Items without a link
// are dropped; content prefers the full body over the description.
func (p *Parser) Parse(data []byte) ([]Entry, error) {
	feed, err := p.inner.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		entry := Entry{
			GUID:    firstNonEmpty(item.GUID, item.Link),
			Title:   strings.TrimSpace(item.Title),
			Link:    strings.TrimSpace(item.Link),
			Content: firstNonEmpty(strings.TrimSpace(item.Content), strings.TrimSpace(item.Description)),
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			entry.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := item.UpdatedParsed.UTC()
			entry.PublishedAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// firstNonEmpty returns the first non-empty string, mirroring cmp.Or
// (unavailable before Go 1.22).
func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
