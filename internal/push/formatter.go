// Package push decides whether a harvested item may be delivered, renders
// it as a bounded chat message and posts it to the downstream webhook.
package push

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/parser"
)

const (
	// maxMessageBytes stays under the channel's hard 4096-byte limit with
	// room for webhook envelope overhead.
	maxMessageBytes    = 3500
	maxSummaryChars    = 80
	maxKeyPoints       = 3
	urgentDeadlineDays = 3

	truncatedMarker = "(truncated)"
)

// Formatter renders extraction records into webhook markdown.
type Formatter struct {
	clock harvest.Clock
}

func NewFormatter(clock harvest.Clock) *Formatter {
	return &Formatter{clock: clock}
}

// Render produces the delivery message for one item. sourceName labels the
// message when the record carries no school name.
func (f *Formatter) Render(rec harvest.Record, item *harvest.Item, sourceName string) string {
	var b strings.Builder

	label := rec.School
	if label == "" {
		label = sourceName
	}
	title := rec.Title
	if title == "" {
		title = item.Title
	}
	fmt.Fprintf(&b, "%s**[%s] %s**\n", f.urgencyMarker(rec.Deadline), label, title)

	meta := rec.PublishDate
	if meta == "" && item.PublishedAt != nil {
		meta = item.PublishedAt.Format("2006-01-02")
	}
	if rec.Category != "" {
		if meta != "" {
			meta += " · "
		}
		meta += rec.Category
	}
	if meta != "" {
		b.WriteString(meta + "\n")
	}
	if rec.Deadline != "" {
		b.WriteString("截止: " + rec.Deadline + "\n")
	}

	if summary := truncateRunes(strings.TrimSpace(rec.Summary), maxSummaryChars); summary != "" {
		b.WriteString("\n" + summary + "\n")
	}

	if points := dedupeKeyPoints(rec.KeyPoints, rec.Summary); len(points) > 0 {
		b.WriteString("\n")
		for _, p := range points {
			b.WriteString("- " + p + "\n")
		}
	}

	if len(rec.Attachments) > 0 {
		b.WriteString("\n附件:\n")
		for _, a := range rec.Attachments {
			if httpShaped(a.URL) {
				fmt.Fprintf(&b, "- [%s](%s)\n", a.Name, a.URL)
			} else {
				b.WriteString("- " + a.Name + "\n")
			}
		}
	}

	footer := footerLink(item)
	if footer != "" {
		b.WriteString("\n[原文链接](" + footer + ")")
	}

	msg := b.String()
	if len(msg) <= maxMessageBytes {
		return msg
	}

	tail := "\n" + truncatedMarker
	if footer != "" {
		tail += "\n[原文链接](" + footer + ")"
	}
	return truncateBytes(msg, maxMessageBytes-len(tail)) + tail
}

func (f *Formatter) urgencyMarker(deadline string) string {
	if deadline == "" {
		return ""
	}
	due := parser.ParseDate(deadline)
	if due == nil {
		return ""
	}
	now := f.clock.Now()
	if due.Before(now) {
		return ""
	}
	if due.Sub(now) <= urgentDeadlineDays*24*time.Hour {
		return "⏰ "
	}
	return ""
}

// dedupeKeyPoints drops points repeated among themselves or already stated
// by the summary, keeping at most maxKeyPoints.
func dedupeKeyPoints(points []string, summary string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range points {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		if summary != "" && (strings.Contains(summary, p) || strings.Contains(p, summary)) {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == maxKeyPoints {
			break
		}
	}
	return out
}

func footerLink(item *harvest.Item) string {
	if httpShaped(item.CanonicalURL) {
		return item.CanonicalURL
	}
	if httpShaped(item.URL) {
		return item.URL
	}
	return ""
}

func httpShaped(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
