package harvest

import (
	"context"
	"time"
)

// Store persists sources, items and audit rows. The pipeline never needs
// multi-row transactions; each operation is independent.
type Store interface {
	// ListActiveSources returns active sources, optionally filtered by
	// exact name, ordered by priority then id.
	ListActiveSources(ctx context.Context, nameFilter string) ([]Source, error)

	// UpdateSourceRunState writes back a source's post-run state.
	UpdateSourceRunState(ctx context.Context, state SourceRunState) error

	// GetItem looks up an item by its unique (sourceID, canonicalURL) key.
	// A missing item returns (nil, nil).
	GetItem(ctx context.Context, sourceID int64, canonicalURL string) (*Item, error)

	// UpsertItem creates or updates the item keyed on (SourceID,
	// CanonicalURL) and returns its id.
	UpsertItem(ctx context.Context, item *Item) (int64, error)

	// MarkItemPushed sets the push timestamp. It is the sole mutation that
	// marks an item delivered and is called exactly once per item.
	MarkItemPushed(ctx context.Context, itemID int64, at time.Time) error

	// UpdateItemStatus revises lifecycle status and skip reason.
	UpdateItemStatus(ctx context.Context, itemID int64, status ItemStatus, reason SkipReason) error

	// InsertAudit appends one audit row.
	InsertAudit(ctx context.Context, entry AuditLog) error

	// CountRecentPushes counts successful pushes for a source since the
	// given instant, from the audit table.
	CountRecentPushes(ctx context.Context, sourceID int64, since time.Time) (int, error)
}

// SourceRunState is the writable subset of a source mutated by the runner.
type SourceRunState struct {
	SourceID      int64
	ETag          string
	LastModified  string
	LastFetchedAt *time.Time
	LastError     string
	LastRunStats  string
}

// Fetcher performs a single conditional GET.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// Extractor converts page text into a structured Record. Implementations
// retry internally and degrade to a manual-review record on persistent
// failure, so the returned error is reserved for context cancellation.
type Extractor interface {
	Extract(ctx context.Context, input ExtractInput) (Record, error)
}

// ExtractInput carries page text plus context into the extraction service.
type ExtractInput struct {
	Text        string
	URL         string
	SourceLabel string
	// TrustedAttachments were discovered by the crawler itself and survive
	// the adapter's extension filter regardless of URL shape.
	TrustedAttachments []Attachment
}

// Notifier delivers a rendered message to the downstream channel.
type Notifier interface {
	Send(ctx context.Context, content string) error
}

// Clock returns the current time (injectable for cooldown/window tests).
type Clock interface {
	Now() time.Time
}

// Fingerprinter computes the content fingerprint used for dedup.
type Fingerprinter interface {
	Fingerprint(title, publishDate, body string) string
}
