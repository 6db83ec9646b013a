package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schoolwatch/harvester/internal/harvest"
)

func TestParseDetailWithSelectors(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("Enrollment for the spring term opens soon. ", 5)
	html := `<html><body>
		<h1 class="title">Spring Enrollment Notice</h1>
		<div class="pubdate">发布时间：2026-02-10</div>
		<div class="article">` + body + `</div>
		<div class="atts"><a class="att" href="/files/plan.pdf">Enrollment plan</a></div>
	</body></html>`

	cfg := mustCrawlConfig(t, harvest.CrawlConfig{
		TitleSelector:      ".title",
		DateSelector:       ".pubdate",
		ContentSelector:    ".article",
		AttachmentSelector: ".atts a",
	})

	d, err := ParseDetail(html, "http://example.edu/info/1.html", cfg)
	require.NoError(t, err)
	require.Equal(t, "Spring Enrollment Notice", d.Title)
	require.Equal(t, "发布时间：2026-02-10", d.DateText)
	require.Contains(t, d.Content, "Enrollment for the spring term")
	require.False(t, d.UsedFallback)
	require.Len(t, d.Attachments, 1)
	require.Equal(t, "Enrollment plan", d.Attachments[0].Name)
	require.Equal(t, "http://example.edu/files/plan.pdf", d.Attachments[0].URL)
}

func TestParseDetailFallsBackToReadability(t *testing.T) {
	t.Parallel()

	paragraph := strings.Repeat("The admissions committee will publish results on the portal. ", 8)
	html := `<html><head><title>ignored</title></head><body>
		<nav><a href="/">Home</a><a href="/news">News</a></nav>
		<h1>Results Announcement</h1>
		<article><p>` + paragraph + `</p><p>Published 2026.03.12</p></article>
		<footer>Copyright Example University</footer>
	</body></html>`

	// Selectors that match nothing force the fallback path.
	cfg := mustCrawlConfig(t, harvest.CrawlConfig{
		TitleSelector:   ".missing-title",
		ContentSelector: ".missing-content",
	})

	d, err := ParseDetail(html, "http://example.edu/info/2.html", cfg)
	require.NoError(t, err)
	require.True(t, d.UsedFallback)
	require.NotEmpty(t, d.Title)
	require.Contains(t, d.Content, "admissions committee")
	require.NotContains(t, d.Content, "Copyright Example University")
	require.Equal(t, "2026-03-12", FindDateText(d.DateText))
}

func TestParseDetailAttachmentExtensionFallback(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("Detailed requirements are described below. ", 5)
	html := `<html><body><h1>Notice</h1><div class="c">` + body + `</div>
		<a href="/files/form.docx">Application form</a>
		<a href="/news/other.html">Other news</a>
	</body></html>`

	cfg := mustCrawlConfig(t, harvest.CrawlConfig{ContentSelector: ".c"})
	d, err := ParseDetail(html, "http://example.edu/info/3.html", cfg)
	require.NoError(t, err)
	require.Len(t, d.Attachments, 1)
	require.Equal(t, "http://example.edu/files/form.docx", d.Attachments[0].URL)
}

func TestHasDocumentExtension(t *testing.T) {
	t.Parallel()

	require.True(t, HasDocumentExtension("http://x/file.PDF"))
	require.True(t, HasDocumentExtension("http://x/a/b.xlsx?dl=1"))
	require.False(t, HasDocumentExtension("http://x/page.html"))
	require.False(t, HasDocumentExtension("http://x/download?id=file.pdf"))
}
