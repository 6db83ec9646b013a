package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestNotifier(t *testing.T, handler http.HandlerFunc) *WebhookNotifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, SendsPerMinute: 6000}, zap.NewNop())
	require.NoError(t, err)
	return n
}

func TestWebhookSendPostsMarkdownPayload(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	})

	require.NoError(t, n.Send(context.Background(), "**hello**"))
	require.Equal(t, "markdown", got.MsgType)
	require.Equal(t, "**hello**", got.Markdown.Content)
}

func TestWebhookSendNonZeroErrcodeFailsWithAdvice(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook url"}`))
	})

	err := n.Send(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "93000")
	require.Contains(t, err.Error(), "revoked")
}

func TestWebhookSendHTTPFailure(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := n.Send(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestWebhookRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewWebhookNotifier(WebhookConfig{}, zap.NewNop())
	require.Error(t, err)
}
