package antibot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	s := NewSentinel()

	kw, ok := s.Detect("<html><body>Your IP has been blocked by the administrator</body></html>")
	require.True(t, ok)
	require.Equal(t, "your ip has been blocked", kw)

	_, ok = s.Detect("<html><body>Admissions schedule for 2026</body></html>")
	require.False(t, ok)

	_, ok = s.Detect("")
	require.False(t, ok)
}

func TestDetectExtraKeyword(t *testing.T) {
	t.Parallel()

	s := NewSentinel("maintenance in progress")
	kw, ok := s.Detect("Site Maintenance In Progress, come back later")
	require.True(t, ok)
	require.Equal(t, "maintenance in progress", kw)
}

func TestMarkerRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	blk := &BlockError{Keyword: "captcha", URL: "https://example.edu/list", At: at}

	parsed, ok := ParseMarker("fetch failed: " + blk.Marker())
	require.True(t, ok)
	require.Equal(t, "captcha", parsed.Keyword)
	require.Equal(t, "https://example.edu/list", parsed.URL)
	require.True(t, parsed.At.Equal(at))
}

func TestParseMarkerRejectsPlainErrors(t *testing.T) {
	t.Parallel()

	_, ok := ParseMarker("connection refused")
	require.False(t, ok)
	_, ok = ParseMarker("")
	require.False(t, ok)
}

func TestInCooldown(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	marker := (&BlockError{Keyword: "captcha", URL: "http://x", At: at}).Marker()

	require.True(t, InCooldown(marker, at.Add(5*time.Hour)))
	require.False(t, InCooldown(marker, at.Add(7*time.Hour)))
	require.False(t, InCooldown("some other error", at))
}
