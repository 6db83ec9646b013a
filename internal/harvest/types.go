// Package harvest defines core types shared across the ingestion pipeline.
package harvest

import (
	"encoding/json"
	"time"
)

// SourceKind selects the ingestion strategy for a source.
type SourceKind string

// Source kinds persisted in the sources table.
const (
	SourceKindRSS  SourceKind = "RSS"
	SourceKindHTML SourceKind = "HTML"
)

// TransportKind selects which fetch path a source uses.
type TransportKind string

// Transport kinds accepted in crawl configuration.
const (
	TransportHTTP       TransportKind = "http"
	TransportSubprocess TransportKind = "subprocess"
)

// ItemStatus represents the lifecycle state of a harvested item.
// A pushed item keeps its status and is distinguished by a non-nil PushedAt.
type ItemStatus string

// Item status values persisted in the items table.
const (
	ItemStatusPending ItemStatus = "PENDING"
	ItemStatusSkipped ItemStatus = "SKIPPED"
)

// SkipReason is the fixed vocabulary explaining why an item was skipped.
type SkipReason string

// Skip reasons persisted alongside ItemStatusSkipped.
const (
	SkipReasonNone           SkipReason = ""
	SkipReasonTooOld         SkipReason = "too_old"
	SkipReasonNotRelevant    SkipReason = "not_relevant"
	SkipReasonContentShort   SkipReason = "content_too_short"
	SkipReasonNavigationPage SkipReason = "navigation_page"
	SkipReasonManualReview   SkipReason = "manual_review"
)

// AuditAction identifies what kind of decision an audit row records.
type AuditAction string

// AuditResult identifies the outcome of an audited decision.
type AuditResult string

// Audit vocabulary. Every push decision writes exactly one row; the audit
// table is the ground truth for at-most-once delivery.
const (
	AuditActionPush AuditAction = "PUSH"

	AuditPushed              AuditResult = "PUSHED"
	AuditSkipAlreadyPushed   AuditResult = "SKIP_ALREADY_PUSHED"
	AuditDowngradedBigBatch  AuditResult = "DOWNGRADED_BIG_BATCH"
	AuditSkipPerTaskLimit    AuditResult = "SKIP_PER_TASK_LIMIT"
	AuditSkipPerSourceWindow AuditResult = "SKIP_PER_SOURCE_WINDOW"
	AuditSkipRunCap          AuditResult = "SKIP_RUN_CAP"
	AuditError               AuditResult = "ERROR"
)

// Source is a configured origin polled on an interval.
type Source struct {
	ID              int64
	Name            string
	Kind            SourceKind
	URL             string
	Active          bool
	IntervalMinutes int
	Priority        int
	Region          string
	Category        string
	Crawl           CrawlConfig
	ETag            string
	LastModified    string
	LastFetchedAt   *time.Time
	LastError       string
	LastRunStats    string
}

// Item is one harvested announcement, unique per (SourceID, CanonicalURL).
type Item struct {
	ID           int64
	SourceID     int64
	URL          string
	CanonicalURL string
	Title        string
	Content      string
	PublishedAt  *time.Time
	Fingerprint  string
	Status       ItemStatus
	SkipReason   SkipReason
	Digest       string
	PushedAt     *time.Time
	ETag         string
	LastModified string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditLog is an append-only record of a push decision or moderation action.
type AuditLog struct {
	ID        int64
	ItemID    *int64
	SourceID  int64
	Action    AuditAction
	Result    AuditResult
	Reason    string
	Actor     string
	Important bool
	CreatedAt time.Time
}

// Attachment is a named file link attached to an announcement.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Record is the structured extraction result for one announcement. The
// field set mirrors the JSON schema the extraction service is instructed
// to return.
type Record struct {
	IsRelevant  bool         `json:"is_relevant"`
	Reason      string       `json:"reason"`
	School      string       `json:"school"`
	Category    string       `json:"category"`
	Title       string       `json:"title"`
	PublishDate string       `json:"publish_date"`
	Deadline    string       `json:"deadline"`
	Summary     string       `json:"summary"`
	KeyPoints   []string     `json:"key_points"`
	Attachments []Attachment `json:"attachments"`
	Confidence  float64      `json:"confidence"`
}

// RunStats counts per-source (and aggregated per-run) pipeline outcomes.
type RunStats struct {
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
	Pushed   int `json:"pushed"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Add accumulates other into s.
func (s *RunStats) Add(other RunStats) {
	s.Fetched += other.Fetched
	s.Upserted += other.Upserted
	s.Pushed += other.Pushed
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

// Marshal serializes the stats for the sources.last_run_stats column.
func (s RunStats) Marshal() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// SourceResult reports one source's outcome within a run.
type SourceResult struct {
	SourceID int64    `json:"source_id"`
	Name     string   `json:"name"`
	Stats    RunStats `json:"stats"`
	Error    string   `json:"error,omitempty"`
}

// RunOptions controls a single ingest run.
type RunOptions struct {
	// DryRun performs fetching, parsing, extraction and dedup but never
	// delivers, writes audit rows, or mutates push timestamps.
	DryRun bool
	// SourceName restricts the run to the named source when non-empty.
	SourceName string
}

// RunReport is returned by the run entrypoint.
type RunReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []SourceResult `json:"results"`
	Totals     RunStats       `json:"totals"`
}

// FetchRequest captures everything needed to fetch a URL once.
type FetchRequest struct {
	URL          string
	ETag         string
	LastModified string
	Headers      map[string]string
}

// FetchResult is returned by a Fetcher implementation. NotModified means
// the origin confirmed the cached representation is current; Body is empty.
type FetchResult struct {
	Body         []byte
	StatusCode   int
	ETag         string
	LastModified string
	FinalURL     string
	NotModified  bool
}
