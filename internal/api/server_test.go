package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
)

type fakeIngester struct {
	report  harvest.RunReport
	err     error
	gotOpts harvest.RunOptions
	block   chan struct{}
}

func (f *fakeIngester) IngestAll(_ context.Context, opts harvest.RunOptions) (harvest.RunReport, error) {
	f.gotOpts = opts
	if f.block != nil {
		<-f.block
	}
	return f.report, f.err
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeIngester{}, zap.NewNop())
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeIngester{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestTriggerRunPassesOptions(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{report: harvest.RunReport{RunID: "r1"}}
	s := NewServer(ing, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs?dry_run=true&source=example-hs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ing.gotOpts.DryRun)
	require.Equal(t, "example-hs", ing.gotOpts.SourceName)

	var report harvest.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "r1", report.RunID)
}

func TestTriggerRunConflictsWhileRunning(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{block: make(chan struct{})}
	s := NewServer(ing, zap.NewNop())

	done := make(chan struct{})
	go func() {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
		close(done)
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running
	}, time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	close(ing.block)
	<-done
}

func TestTriggerRunErrorSurfaces(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeIngester{err: errors.New("db unavailable")}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "db unavailable")
}

func TestStatusReportsLastRun(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeIngester{}, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "last_run")

	s.RecordReport(harvest.RunReport{RunID: "r9"})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Contains(t, rec.Body.String(), "r9")
}
