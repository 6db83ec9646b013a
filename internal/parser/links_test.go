package parser

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscoverLinksHeuristic(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/a">nav</a>
		<a href="/news/2026/0301/12345.html">announcement</a>
		<a href="/about/contact-us.html#team">contact</a>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:x@example.edu">mail</a>
		<a href="/news/2026/0301/12345.html">dup</a>
	</body></html>`

	links, err := DiscoverLinks(html, "http://example.edu/", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"http://example.edu/news/2026/0301/12345.html"}, links)
}

func TestDiscoverLinksNeverExceedsAnchorCount(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/x1/long-enough-path-one">1</a>
		<a href="/x2/long-enough-path-two">2</a>
		<a href="/s">3</a>
		<a href="/t">4</a>
		<a href="/u#frag-disqualifies-even-long-paths">5</a>
	</body></html>`

	links, err := DiscoverLinks(html, "http://example.edu/", nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(links), 5)
	require.Len(t, links, 2)
}

func TestDiscoverLinksPattern(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/info/1001">yes</a>
		<a href="/list/page2">no</a>
	</body></html>`

	links, err := DiscoverLinks(html, "http://example.edu/", regexp.MustCompile(`/info/\d+`))
	require.NoError(t, err)
	require.Equal(t, []string{"http://example.edu/info/1001"}, links)
}

func TestDiscoverLinksStripsTrackingParams(t *testing.T) {
	t.Parallel()

	html := `<a href="/news/2026/a-long-article.html?utm_source=wechat&id=7">x</a>`
	links, err := DiscoverLinks(html, "http://example.edu/", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"http://example.edu/news/2026/a-long-article.html?id=7"}, links)
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://example.edu/news/1.html?id=2",
		CanonicalURL("https://EXAMPLE.edu/news/1.html?id=2&utm_campaign=spring#top"))
	require.Equal(t, "::notaurl::", CanonicalURL("::notaurl::"))
}
