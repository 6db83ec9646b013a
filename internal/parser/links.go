// Package parser extracts candidate links, list entries and detail content
// from untrusted announcement markup.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// trackingParams are query parameters stripped before a URL is used as a
// dedup key or candidate link.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {},
	"utm_term": {}, "utm_content": {},
	"fbclid": {}, "gclid": {}, "spm": {}, "from": {},
}

// onclickURLRe pulls a URL out of inline handlers like
// window.open('...') or location.href='...'.
var onclickURLRe = regexp.MustCompile(`(?:window\.open|location\.href\s*=|location\s*=)\s*\(?\s*['"]([^'"]+)['"]`)

// DiscoverLinks collects anchor targets from html, resolves them against
// baseURL, strips tracking parameters and deduplicates. With a pattern the
// resolved URLs are regex-filtered; without one a length/fragment heuristic
// keeps only URLs longer than base+5 that carry no fragment.
func DiscoverLinks(html, baseURL string, pattern *regexp.Regexp) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved := resolveLink(base, href)
		if resolved == "" {
			return
		}
		if pattern != nil {
			if !pattern.MatchString(resolved) {
				return
			}
		} else if !plausibleDetailLink(resolved, baseURL) {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links, nil
}

// resolveLink resolves href against base and normalizes it for use as a
// candidate link. Non-HTTP schemes and unparsable hrefs yield "".
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	stripTracking(resolved)
	return resolved.String()
}

func stripTracking(u *url.URL) {
	if u.RawQuery == "" {
		return
	}
	q := u.Query()
	changed := false
	for key := range q {
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
}

func plausibleDetailLink(resolved, baseURL string) bool {
	if strings.Contains(resolved, "#") {
		return false
	}
	return len(resolved) > len(baseURL)+5
}

// CanonicalURL normalizes a detail URL into the dedup key: tracking
// parameters and fragment removed, host lowercased.
func CanonicalURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	stripTracking(u)
	return u.String()
}

// stripQueryFragment reduces a URL to scheme://host/path for attachment
// dedup comparisons.
func stripQueryFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
