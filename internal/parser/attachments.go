package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/schoolwatch/harvester/internal/harvest"
)

// attachmentHints mark anchor text (or nearby text) that suggests a file
// download rather than ordinary navigation.
var attachmentHints = []string{"download", "attachment", "附件", "下载"}

// downloadableTypes are content-type prefixes accepted by the HEAD probe.
var downloadableTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.",
	"application/zip",
	"application/x-rar",
	"application/octet-stream",
}

// Prober confirms whether a URL serves downloadable content.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (contentType, disposition string, err error)
}

// HeadProber implements Prober with an HTTP HEAD request.
type HeadProber struct {
	Client    *http.Client
	UserAgent string
}

// NewHeadProber builds a HEAD prober with a bounded timeout.
func NewHeadProber(userAgent string, timeout time.Duration) *HeadProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HeadProber{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Probe issues a HEAD request and returns the content type and disposition.
func (p *HeadProber) Probe(ctx context.Context, rawURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("new head request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("head %s: %w", rawURL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("head %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), resp.Header.Get("Content-Disposition"), nil
}

// EnrichAttachments scans the page for anchors that look like file
// downloads by their text or surrounding text, excludes candidates already
// known, and confirms each survivor via a HEAD probe before accepting it.
// Ordinary page links fail the probe and are dropped.
func EnrichAttachments(ctx context.Context, html, pageURL string, known []harvest.Attachment, prober Prober) []harvest.Attachment {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	knownKeys := make(map[string]struct{}, len(known))
	for _, att := range known {
		knownKeys[stripQueryFragment(att.URL)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var extra []harvest.Attachment
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if !hintedAnchor(text, sel) {
			return
		}
		href, _ := sel.Attr("href")
		resolved := resolveLink(base, href)
		if resolved == "" {
			return
		}
		key := stripQueryFragment(resolved)
		if _, dup := seen[key]; dup {
			return
		}
		if _, exists := knownKeys[key]; exists {
			return
		}
		seen[key] = struct{}{}

		contentType, disposition, perr := prober.Probe(ctx, resolved)
		if perr != nil || !downloadable(contentType, disposition) {
			return
		}
		name := text
		if name == "" {
			name = fileNameFromURL(resolved)
		}
		extra = append(extra, harvest.Attachment{Name: name, URL: resolved})
	})
	return extra
}

func hintedAnchor(text string, sel *goquery.Selection) bool {
	lower := strings.ToLower(text)
	for _, hint := range attachmentHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	parentText := strings.ToLower(sel.Parent().Text())
	return strings.Contains(parentText, "附件") || strings.Contains(parentText, "attachment")
}

func downloadable(contentType, disposition string) bool {
	if strings.Contains(strings.ToLower(disposition), "attachment") {
		return true
	}
	lower := strings.ToLower(contentType)
	for _, prefix := range downloadableTypes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
