// Package extractor adapts an external LLM extraction service into
// structured announcement records, with bounded retries and a safe
// manual-review fallback.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/parser"
	"github.com/schoolwatch/harvester/internal/telemetry"
)

const (
	defaultMaxAttempts  = 2
	defaultMaxTextChars = 6000
	maxSummaryChars     = 80
	maxKeyPoints        = 3
)

const systemPrompt = `You classify and summarize school announcement pages.
Respond with exactly one JSON object, no code fences, matching:
{"is_relevant": bool, "reason": string, "school": string, "category": string,
"title": string, "publish_date": "YYYY-MM-DD", "deadline": "YYYY-MM-DD" or "",
"summary": string (max 80 characters), "key_points": [up to 3 strings],
"attachments": [{"name": string, "url": string}], "confidence": number 0-1}.
Copy attachment URLs verbatim from the page text; never invent URLs.`

// Config controls the extraction service client.
type Config struct {
	Endpoint     string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxAttempts  int
	MaxTextChars int
}

// Adapter implements harvest.Extractor against an OpenAI-compatible
// chat-completions endpoint.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = defaultMaxTextChars
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Extract calls the service with bounded retries. On persistent failure it
// degrades to a manual-review record instead of failing the pipeline; the
// returned error is reserved for context cancellation.
func (a *Adapter) Extract(ctx context.Context, input harvest.ExtractInput) (harvest.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			telemetry.CountExtractionRetry()
		}
		record, err := a.callOnce(ctx, input)
		if err == nil {
			record.Attachments = mergeAttachments(record.Attachments, input.TrustedAttachments)
			clampRecord(&record)
			return record, nil
		}
		if ctx.Err() != nil {
			return harvest.Record{}, ctx.Err()
		}
		lastErr = err
		a.logger.Warn("extraction attempt failed",
			zap.String("url", input.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	a.logger.Error("extraction failed after retries; degrading to manual review",
		zap.String("url", input.URL),
		zap.Error(lastErr),
	)
	return fallbackRecord(input), nil
}

// ManualReviewReason marks the degraded record returned after the retry
// budget is spent; the runner maps it to the manual-review skip reason.
const ManualReviewReason = "requires manual review"

func fallbackRecord(input harvest.ExtractInput) harvest.Record {
	return harvest.Record{
		IsRelevant: false,
		Reason:     ManualReviewReason,
		Title:      input.SourceLabel,
		Confidence: 0,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) callOnce(ctx context.Context, input harvest.ExtractInput) (harvest.Record, error) {
	text := input.Text
	if runes := []rune(text); len(runes) > a.cfg.MaxTextChars {
		text = string(runes[:a.cfg.MaxTextChars])
	}
	user := fmt.Sprintf("Source: %s\nURL: %s\n\nPage text:\n%s", input.SourceLabel, input.URL, text)

	payload, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return harvest.Record{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return harvest.Record{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return harvest.Record{}, fmt.Errorf("call extraction service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return harvest.Record{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return harvest.Record{}, fmt.Errorf("extraction service status %d: %s", resp.StatusCode, truncateForLog(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return harvest.Record{}, fmt.Errorf("decode response envelope: %w", err)
	}
	if parsed.Error != nil {
		return harvest.Record{}, fmt.Errorf("extraction service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return harvest.Record{}, fmt.Errorf("extraction service returned no choices")
	}

	return decodeRecord(parsed.Choices[0].Message.Content)
}

// decodeRecord extracts the single JSON object from the model output,
// tolerating code fences and surrounding prose.
func decodeRecord(content string) (harvest.Record, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return harvest.Record{}, fmt.Errorf("no JSON object in model output")
	}
	var record harvest.Record
	if err := json.Unmarshal([]byte(content[start:end+1]), &record); err != nil {
		return harvest.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

// mergeAttachments combines service-returned attachments with the trusted
// crawler-discovered set, then keeps only URLs that end in a known document
// extension or appear in the trusted set. This drops links the service
// hallucinated while letting trusted extension-less URLs through.
func mergeAttachments(fromService, trusted []harvest.Attachment) []harvest.Attachment {
	trustedKeys := make(map[string]struct{}, len(trusted))
	for _, att := range trusted {
		trustedKeys[stripQueryFragment(att.URL)] = struct{}{}
	}

	var out []harvest.Attachment
	seen := make(map[string]struct{})
	for _, att := range append(append([]harvest.Attachment{}, trusted...), fromService...) {
		if att.URL == "" {
			continue
		}
		key := stripQueryFragment(att.URL)
		_, isTrusted := trustedKeys[key]
		if !isTrusted && !parser.HasDocumentExtension(att.URL) {
			continue
		}
		dedupKey := att.Name + "\x00" + key
		if _, dup := seen[dedupKey]; dup {
			continue
		}
		seen[dedupKey] = struct{}{}
		out = append(out, att)
	}
	return out
}

func clampRecord(record *harvest.Record) {
	if runes := []rune(record.Summary); len(runes) > maxSummaryChars {
		record.Summary = string(runes[:maxSummaryChars])
	}
	if len(record.KeyPoints) > maxKeyPoints {
		record.KeyPoints = record.KeyPoints[:maxKeyPoints]
	}
}

func stripQueryFragment(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func truncateForLog(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
