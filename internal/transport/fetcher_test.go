package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
)

func newTestHTTPFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	pacer := NewPacer(time.Millisecond, 2*time.Millisecond)
	f, err := NewHTTPFetcher(Config{UserAgent: "harvester-test/1.0"}, pacer, nil, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestHTTPFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token-123", r.Header.Get("If-None-Match"))
		require.Equal(t, "https://ref.example/", r.Header.Get("Referer"))
		w.Header().Set("ETag", "token-456")
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2026 00:00:00 GMT")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t)
	res, err := f.Fetch(context.Background(), harvest.FetchRequest{
		URL:     srv.URL + "/page",
		ETag:    "token-123",
		Headers: map[string]string{"Referer": "https://ref.example/"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "token-456", res.ETag)
	require.Equal(t, "Wed, 01 Jan 2026 00:00:00 GMT", res.LastModified)
	require.Equal(t, "<html>ok</html>", string(res.Body))
	require.False(t, res.NotModified)
}

func TestHTTPFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<html>poll</html>"))
	}))
	defer srv.Close()

	// Sources are re-fetched every interval through the same process-wide
	// fetcher, so repeat visits to one URL must not be rejected as
	// already-visited.
	f := newTestHTTPFetcher(t)
	for i := 0; i < 2; i++ {
		res, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL + "/list"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "<html>poll</html>", string(res.Body))
	}
	require.Equal(t, int32(2), hits.Load())
}

func TestHTTPFetchNotModified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t)
	res, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL, ETag: "t"})
	require.NoError(t, err)
	require.True(t, res.NotModified)
	require.Empty(t, res.Body)
	require.Equal(t, http.StatusNotModified, res.StatusCode)
}

func TestHTTPFetchSurfacesErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t)
	res, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.Empty(t, res.Body)
}

type denyAllRobots struct{}

func (denyAllRobots) Allowed(context.Context, string) bool { return false }

func TestHTTPFetchRespectsRobotsPolicy(t *testing.T) {
	t.Parallel()

	pacer := NewPacer(time.Millisecond, 2*time.Millisecond)
	f, err := NewHTTPFetcher(Config{UserAgent: "t"}, pacer, denyAllRobots{}, zap.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), harvest.FetchRequest{URL: "http://example.invalid/"})
	require.ErrorIs(t, err, ErrRobotsDisallowed)
}
