package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/schoolwatch/harvester/internal/harvest"
)

const (
	defaultSendTimeout = 10 * time.Second
	// defaultSendsPerMinute stays under the channel's documented 20/min.
	defaultSendsPerMinute = 18
)

// Advisory text for the channel's known application error codes. Anything
// else surfaces the raw errmsg.
var errcodeAdvice = map[int]string{
	93000: "webhook address invalid or revoked, check the configured URL",
	45009: "rate limited by the channel, reduce push caps",
	40058: "message exceeds the channel length limit",
}

// WebhookConfig configures the delivery endpoint.
type WebhookConfig struct {
	URL            string
	Timeout        time.Duration
	SendsPerMinute int
}

// WebhookNotifier implements harvest.Notifier against a markdown webhook.
// Sends are paced by a token-bucket limiter shared across the process.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("push.webhook_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	perMinute := cfg.SendsPerMinute
	if perMinute <= 0 {
		perMinute = defaultSendsPerMinute
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		logger:  logger,
	}, nil
}

type webhookPayload struct {
	MsgType  string          `json:"msgtype"`
	Markdown webhookMarkdown `json:"markdown"`
}

type webhookMarkdown struct {
	Content string `json:"content"`
}

type webhookResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send posts one markdown message. A non-2xx status or a non-zero errcode
// is a failure; the caller decides whether the item retries next cycle.
func (n *WebhookNotifier) Send(ctx context.Context, content string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("await send slot: %w", err)
	}

	body, err := json.Marshal(webhookPayload{
		MsgType:  "markdown",
		Markdown: webhookMarkdown{Content: content},
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	var decoded webhookResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	if decoded.ErrCode != 0 {
		if advice, ok := errcodeAdvice[decoded.ErrCode]; ok {
			return fmt.Errorf("webhook errcode %d: %s (%s)", decoded.ErrCode, decoded.ErrMsg, advice)
		}
		return fmt.Errorf("webhook errcode %d: %s", decoded.ErrCode, decoded.ErrMsg)
	}
	n.logger.Debug("webhook delivered", zap.Int("bytes", len(content)))
	return nil
}

var _ harvest.Notifier = (*WebhookNotifier)(nil)
