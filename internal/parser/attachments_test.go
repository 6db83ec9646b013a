package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schoolwatch/harvester/internal/harvest"
)

type fakeProber struct {
	types map[string]string // url -> content type
	disp  map[string]string // url -> content disposition
	calls []string
}

func (p *fakeProber) Probe(_ context.Context, rawURL string) (string, string, error) {
	p.calls = append(p.calls, rawURL)
	ct, ok := p.types[rawURL]
	if !ok {
		return "", "", errors.New("not found")
	}
	return ct, p.disp[rawURL], nil
}

func TestEnrichAttachmentsConfirmsViaProbe(t *testing.T) {
	t.Parallel()

	html := `<div>
		<p>附件：<a href="/files/plan">招生计划下载</a></p>
		<p><a href="/files/notes">Download notes</a></p>
		<p><a href="/news/more.html">More download news</a></p>
	</div>`

	prober := &fakeProber{
		types: map[string]string{
			"http://example.edu/files/plan":  "application/pdf",
			"http://example.edu/files/notes": "text/html",
			"http://example.edu/news/more.html": "text/html",
		},
		disp: map[string]string{
			"http://example.edu/files/notes": `attachment; filename="notes.zip"`,
		},
	}

	extra := EnrichAttachments(context.Background(), html, "http://example.edu/info/1.html", nil, prober)
	require.Len(t, extra, 2)
	require.Equal(t, "招生计划下载", extra[0].Name)
	require.Equal(t, "http://example.edu/files/plan", extra[0].URL)
	require.Equal(t, "http://example.edu/files/notes", extra[1].URL)
}

func TestEnrichAttachmentsExcludesKnown(t *testing.T) {
	t.Parallel()

	html := `<p>附件：<a href="/files/plan?v=2">下载</a></p>`
	prober := &fakeProber{types: map[string]string{}}

	known := []harvest.Attachment{{Name: "plan", URL: "http://example.edu/files/plan?v=1"}}
	extra := EnrichAttachments(context.Background(), html, "http://example.edu/", known, prober)
	require.Empty(t, extra)
	require.Empty(t, prober.calls, "known candidates must not be probed")
}

func TestEnrichAttachmentsIgnoresUnhintedAnchors(t *testing.T) {
	t.Parallel()

	html := `<p><a href="/files/secret.pdf">read the policy</a></p>`
	prober := &fakeProber{types: map[string]string{}}

	extra := EnrichAttachments(context.Background(), html, "http://example.edu/", nil, prober)
	require.Empty(t, extra)
	require.Empty(t, prober.calls)
}

func TestDownloadable(t *testing.T) {
	t.Parallel()

	require.True(t, downloadable("application/pdf", ""))
	require.True(t, downloadable("application/vnd.openxmlformats-officedocument.wordprocessingml.document", ""))
	require.True(t, downloadable("text/html", `attachment; filename="x.pdf"`))
	require.False(t, downloadable("text/html", "inline"))
}
