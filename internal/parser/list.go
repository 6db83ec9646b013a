package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/schoolwatch/harvester/internal/harvest"
)

// ListEntry is one candidate announcement discovered on a list page.
type ListEntry struct {
	URL      string
	Title    string
	DateText string
}

// ParseList extracts candidate entries from a list page. With a configured
// container selector each match yields URL (link selector first, inline
// handler URL as fallback), title and a best-effort date. Without one it
// degrades to DiscoverLinks.
func ParseList(html, baseURL string, cfg harvest.CrawlConfig) ([]ListEntry, error) {
	if cfg.ListSelector == "" {
		links, err := DiscoverLinks(html, baseURL, cfg.DetailRegexp())
		if err != nil {
			return nil, err
		}
		entries := make([]ListEntry, 0, len(links))
		for _, link := range links {
			entries = append(entries, ListEntry{URL: link})
		}
		return entries, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	seen := make(map[string]struct{})
	var entries []ListEntry
	doc.Find(cfg.ListSelector).Each(func(_ int, item *goquery.Selection) {
		entry := ListEntry{
			URL:      itemURL(item, base, cfg.LinkSelector),
			Title:    itemTitle(item, cfg.TitleSelector),
			DateText: itemDate(item, cfg.DateSelector),
		}
		if entry.URL == "" {
			return
		}
		if _, dup := seen[entry.URL]; dup {
			return
		}
		seen[entry.URL] = struct{}{}
		entries = append(entries, entry)
	})
	return entries, nil
}

func itemURL(item *goquery.Selection, base *url.URL, linkSelector string) string {
	anchor := item.Find("a[href]").First()
	if linkSelector != "" {
		if sel := item.Find(linkSelector).First(); sel.Length() > 0 {
			anchor = sel
		}
	}
	if href, ok := anchor.Attr("href"); ok {
		if resolved := resolveLink(base, href); resolved != "" {
			return resolved
		}
	}
	// Lists that navigate via inline handlers instead of hrefs.
	for _, attr := range []string{"onclick", "href"} {
		raw, ok := anchor.Attr(attr)
		if !ok {
			raw, ok = item.Attr(attr)
		}
		if !ok {
			continue
		}
		if m := onclickURLRe.FindStringSubmatch(raw); m != nil {
			if resolved := resolveLink(base, m[1]); resolved != "" {
				return resolved
			}
		}
	}
	return ""
}

func itemTitle(item *goquery.Selection, titleSelector string) string {
	if titleSelector != "" {
		if txt := strings.TrimSpace(item.Find(titleSelector).First().Text()); txt != "" {
			return txt
		}
	}
	if txt := strings.TrimSpace(item.Find("a").First().Text()); txt != "" {
		return txt
	}
	return strings.TrimSpace(item.Text())
}

func itemDate(item *goquery.Selection, dateSelector string) string {
	if dateSelector != "" {
		if txt := strings.TrimSpace(item.Find(dateSelector).First().Text()); txt != "" {
			return txt
		}
	}
	return FindDateText(item.Text())
}
