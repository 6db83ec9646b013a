package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/schoolwatch/harvester/internal/harvest"
)

// minPlausibleContentChars gates the selector result: shorter extractions
// are treated as a miss and routed through the readability fallback.
const minPlausibleContentChars = 80

// documentExtensions identify anchors that point at downloadable files.
var documentExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar",
}

// Detail is the normalized content of one announcement page.
type Detail struct {
	Title       string
	DateText    string
	Content     string
	Attachments []harvest.Attachment
	// UsedFallback reports whether the readability fallback produced the
	// content, which callers may treat as lower-confidence.
	UsedFallback bool
}

// ParseDetail extracts title/date/body/attachments from a detail page.
// Configured selectors are tried first; a missing or implausibly short
// result strips navigational chrome and falls back to a readability-style
// extraction. The date falls back to a regex scan over the whole page.
func ParseDetail(html, pageURL string, cfg harvest.CrawlConfig) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detail{}, fmt.Errorf("parse html: %w", err)
	}

	var d Detail
	if cfg.TitleSelector != "" {
		d.Title = strings.TrimSpace(doc.Find(cfg.TitleSelector).First().Text())
	}
	if d.Title == "" {
		d.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if cfg.ContentSelector != "" {
		d.Content = normalizeWhitespace(doc.Find(cfg.ContentSelector).First().Text())
	}

	if d.Title == "" || len([]rune(d.Content)) < minPlausibleContentChars {
		title, content := readableFallback(html, pageURL)
		if d.Title == "" {
			d.Title = title
		}
		if len([]rune(content)) > len([]rune(d.Content)) {
			d.Content = content
			d.UsedFallback = true
		}
	}

	if cfg.DateSelector != "" {
		d.DateText = strings.TrimSpace(doc.Find(cfg.DateSelector).First().Text())
	}
	if FindDateText(d.DateText) == "" {
		// Selector missing or not date-shaped; scan the whole page.
		if found := FindDateText(doc.Text()); found != "" {
			d.DateText = found
		}
	}

	d.Attachments = detailAttachments(doc, pageURL, cfg.AttachmentSelector)
	return d, nil
}

// readableFallback strips navigational chrome and runs a generic
// readability extraction over what remains.
func readableFallback(html, pageURL string) (title, content string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	doc.Find("nav, header, footer, aside, script, style, .sidebar, .nav, .menu").Remove()
	stripped, err := doc.Html()
	if err != nil {
		stripped = html
	}
	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(stripped), parsed)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), normalizeWhitespace(article.TextContent)
}

func detailAttachments(doc *goquery.Document, pageURL, attachmentSelector string) []harvest.Attachment {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var found []harvest.Attachment
	seen := make(map[string]struct{})
	collect := func(sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved := resolveLink(base, href)
		if resolved == "" {
			return
		}
		key := stripQueryFragment(resolved)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		name := strings.TrimSpace(sel.Text())
		if name == "" {
			name = fileNameFromURL(resolved)
		}
		found = append(found, harvest.Attachment{Name: name, URL: resolved})
	}

	if attachmentSelector != "" {
		doc.Find(attachmentSelector).Each(func(_ int, sel *goquery.Selection) {
			collect(sel)
		})
	}
	if len(found) > 0 {
		return found
	}

	// No selector hits; keep anchors whose target carries a document
	// extension.
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if HasDocumentExtension(href) {
			collect(sel)
		}
	})
	return found
}

// HasDocumentExtension reports whether the URL path ends in a known
// document extension.
func HasDocumentExtension(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	lower := strings.ToLower(u.Path)
	for _, ext := range documentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 {
		return rawURL
	}
	return segments[len(segments)-1]
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
