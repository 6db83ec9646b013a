package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
)

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func newTestAdapter(srvURL string) *Adapter {
	return New(Config{Endpoint: srvURL, Model: "test-model"}, zap.NewNop())
}

func TestExtractSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "```json\n"+`{"is_relevant":true,"reason":"enrollment","school":"Example HS",
			"category":"enrollment","title":"Spring Notice","publish_date":"2026-03-01","deadline":"",
			"summary":"Spring enrollment opens","key_points":["apply online"],
			"attachments":[{"name":"plan","url":"http://x/files/plan.pdf"}],"confidence":0.9}`+"\n```")
	}))
	defer srv.Close()

	record, err := newTestAdapter(srv.URL).Extract(context.Background(), harvest.ExtractInput{
		Text: "page text", URL: "http://x/info/1", SourceLabel: "Example HS",
	})
	require.NoError(t, err)
	require.True(t, record.IsRelevant)
	require.Equal(t, "Spring Notice", record.Title)
	require.Len(t, record.Attachments, 1)
}

func TestExtractRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			chatReply(t, w, "sorry, I cannot help with that")
			return
		}
		chatReply(t, w, `{"is_relevant":false,"reason":"sports day recap","confidence":0.8}`)
	}))
	defer srv.Close()

	record, err := newTestAdapter(srv.URL).Extract(context.Background(), harvest.ExtractInput{Text: "t", URL: "u"})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, "sports day recap", record.Reason)
}

func TestExtractDegradesToManualReview(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	record, err := newTestAdapter(srv.URL).Extract(context.Background(), harvest.ExtractInput{
		Text: "t", URL: "u", SourceLabel: "Example HS",
		TrustedAttachments: []harvest.Attachment{{Name: "plan", URL: "http://x/plan"}},
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load(), "exactly two attempts")
	require.False(t, record.IsRelevant)
	require.Equal(t, "requires manual review", record.Reason)
	require.Zero(t, record.Confidence)
	require.Empty(t, record.Attachments)
}

func TestExtractAttachmentTrustFilter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		chatReply(t, w, `{"is_relevant":true,"reason":"r","attachments":[
			{"name":"real form","url":"http://x/files/form.pdf"},
			{"name":"hallucinated","url":"http://x/fake-page"},
			{"name":"real form","url":"http://x/files/form.pdf?v=2"}
		],"confidence":1}`)
	}))
	defer srv.Close()

	trusted := []harvest.Attachment{{Name: "portal file", URL: "http://x/download?id=99"}}
	record, err := newTestAdapter(srv.URL).Extract(context.Background(), harvest.ExtractInput{
		Text: "t", URL: "u", TrustedAttachments: trusted,
	})
	require.NoError(t, err)

	urls := make([]string, 0, len(record.Attachments))
	for _, att := range record.Attachments {
		urls = append(urls, att.URL)
	}
	// Trusted extension-less URL survives; hallucinated page link does not;
	// (name, URL-sans-query) dedup collapses the form variants.
	require.Equal(t, []string{"http://x/download?id=99", "http://x/files/form.pdf"}, urls)
}

func TestExtractClampsSummaryAndKeyPoints(t *testing.T) {
	t.Parallel()

	long := make([]rune, 0, 120)
	for i := 0; i < 120; i++ {
		long = append(long, '校')
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{
			"is_relevant": true, "reason": "r", "summary": string(long),
			"key_points": []string{"a", "b", "c", "d", "e"}, "confidence": 1,
		}
		raw, _ := json.Marshal(payload)
		chatReply(t, w, string(raw))
	}))
	defer srv.Close()

	record, err := newTestAdapter(srv.URL).Extract(context.Background(), harvest.ExtractInput{Text: "t", URL: "u"})
	require.NoError(t, err)
	require.Len(t, []rune(record.Summary), 80)
	require.Len(t, record.KeyPoints, 3)
}
