// Package runner drives one harvest cycle: for each active source it
// selects the RSS or HTML strategy, walks the fetch/parse/extract/dedup
// pipeline and hands eligible items to the push governor, aggregating
// statistics per source and for the run.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/antibot"
	"github.com/schoolwatch/harvester/internal/extractor"
	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/parser"
	"github.com/schoolwatch/harvester/internal/push"
	"github.com/schoolwatch/harvester/internal/rss"
	"github.com/schoolwatch/harvester/internal/telemetry"
)

// Config holds pipeline policy knobs.
type Config struct {
	MaxPushAge time.Duration
	Push       push.GovernorConfig
}

// Deps collects the runner's collaborators, all injected.
type Deps struct {
	Store             harvest.Store
	HTTPFetcher       harvest.Fetcher
	SubprocessFetcher harvest.Fetcher
	Extractor         harvest.Extractor
	Notifier          harvest.Notifier
	Prober            parser.Prober
	Clock             harvest.Clock
	Logger            *zap.Logger
}

// Runner executes ingest cycles. Sources are processed sequentially on
// purpose: per-domain pacing and push accounting are shared state and a
// single pass needs no locking.
type Runner struct {
	cfg      Config
	store    harvest.Store
	fetchers map[harvest.TransportKind]harvest.Fetcher
	extract  harvest.Extractor
	notifier harvest.Notifier
	prober   parser.Prober
	sentinel *antibot.Sentinel
	feeds    *rss.Parser
	hasher   harvest.Fingerprinter
	clock    harvest.Clock
	logger   *zap.Logger
}

func New(cfg Config, hasher harvest.Fingerprinter, deps Deps) *Runner {
	return &Runner{
		cfg:   cfg,
		store: deps.Store,
		fetchers: map[harvest.TransportKind]harvest.Fetcher{
			harvest.TransportHTTP:       deps.HTTPFetcher,
			harvest.TransportSubprocess: deps.SubprocessFetcher,
		},
		extract:  deps.Extractor,
		notifier: deps.Notifier,
		prober:   deps.Prober,
		sentinel: antibot.NewSentinel(),
		feeds:    rss.NewParser(),
		hasher:   hasher,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
}

// IngestAll runs one cycle over all active sources (or the one named in
// opts). A fresh governor is built per run so push counters start at zero.
func (r *Runner) IngestAll(ctx context.Context, opts harvest.RunOptions) (harvest.RunReport, error) {
	report := harvest.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
	}
	sources, err := r.store.ListActiveSources(ctx, opts.SourceName)
	if err != nil {
		return report, fmt.Errorf("list sources: %w", err)
	}
	gov := push.NewGovernor(r.cfg.Push, r.store, r.notifier, push.NewFormatter(r.clock), r.clock, r.logger)

	for i := range sources {
		res := r.processSource(ctx, gov, &sources[i], opts)
		report.Results = append(report.Results, res)
		report.Totals.Add(res.Stats)
	}

	report.FinishedAt = r.clock.Now()
	telemetry.ObserveRun(report.FinishedAt.Sub(report.StartedAt))
	r.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.Int("sources", len(report.Results)),
		zap.Int("fetched", report.Totals.Fetched),
		zap.Int("upserted", report.Totals.Upserted),
		zap.Int("pushed", report.Totals.Pushed),
		zap.Int("skipped", report.Totals.Skipped),
		zap.Int("errors", report.Totals.Errors))
	return report, nil
}

// processSource runs one source end to end. A panic escaping the pipeline
// is recovered here, counted as one error, and the run moves on.
func (r *Runner) processSource(ctx context.Context, gov *push.Governor, src *harvest.Source, opts harvest.RunOptions) (res harvest.SourceResult) {
	res = harvest.SourceResult{SourceID: src.ID, Name: src.Name}
	defer func() {
		if p := recover(); p != nil {
			res.Stats.Errors++
			res.Error = fmt.Sprintf("panic: %v", p)
			telemetry.CountSourceError("panic")
			r.logger.Error("source panicked",
				zap.String("source", src.Name), zap.Any("panic", p))
			r.writeRunState(ctx, src, src.LastFetchedAt, res.Error, res.Stats)
		}
	}()

	now := r.clock.Now()
	if antibot.InCooldown(src.LastError, now) {
		res.Stats.Errors++
		res.Error = "anti-bot cooldown active"
		telemetry.CountSourceError("cooldown")
		r.logger.Warn("source in anti-bot cooldown, skipping",
			zap.String("source", src.Name))
		// Keep the block marker as last-error so the next cycle re-checks
		// the same cooldown window. No network call happens.
		r.writeRunState(ctx, src, src.LastFetchedAt, src.LastError, res.Stats)
		return res
	}

	col, err := r.collectList(ctx, src, now)
	if err != nil {
		res.Stats.Errors++
		res.Error = err.Error()
		var blk *antibot.BlockError
		if errors.As(err, &blk) {
			res.Error = blk.Marker()
			telemetry.CountSourceError("antibot")
			r.logger.Warn("anti-bot block detected",
				zap.String("source", src.Name), zap.String("keyword", blk.Keyword))
		} else {
			telemetry.CountSourceError("fetch")
		}
		r.writeRunState(ctx, src, src.LastFetchedAt, res.Error, res.Stats)
		return res
	}
	if col.notModified {
		fetchedAt := now
		r.writeRunState(ctx, src, &fetchedAt, "", res.Stats)
		return res
	}

	var candidates []push.Candidate
	var lastErr string
	newCount := 0
	for _, entry := range col.entries {
		cand, outcome, err := r.processEntry(ctx, src, entry, col.bodies[entry.URL], &res.Stats)
		if err != nil {
			var blk *antibot.BlockError
			if errors.As(err, &blk) {
				res.Stats.Errors++
				res.Error = blk.Marker()
				telemetry.CountSourceError("antibot")
				r.writeRunState(ctx, src, src.LastFetchedAt, res.Error, res.Stats)
				return res
			}
			res.Stats.Errors++
			lastErr = err.Error()
			telemetry.CountSourceError("fetch")
			r.logger.Warn("entry failed",
				zap.String("source", src.Name), zap.String("url", entry.URL), zap.Error(err))
			continue
		}
		if outcome == entryNew {
			newCount++
		}
		if cand != nil {
			candidates = append(candidates, *cand)
		}
	}

	for _, cand := range candidates {
		cand.TaskNewCount = newCount
		cand.DryRun = opts.DryRun
		out, err := gov.Deliver(ctx, cand)
		if err != nil {
			res.Stats.Errors++
			lastErr = err.Error()
			continue
		}
		if out == push.OutcomePushed {
			res.Stats.Pushed++
		} else {
			res.Stats.Skipped++
		}
	}

	src.ETag = col.etag
	src.LastModified = col.lastModified
	fetchedAt := now
	res.Error = lastErr
	r.writeRunState(ctx, src, &fetchedAt, lastErr, res.Stats)
	return res
}

// collected is the outcome of the list/feed fetch for one source.
type collected struct {
	entries      []parser.ListEntry
	bodies       map[string]string // feed-provided content, keyed by URL
	etag         string
	lastModified string
	notModified  bool
}

func (r *Runner) collectList(ctx context.Context, src *harvest.Source, now time.Time) (collected, error) {
	result, err := r.fetcherFor(src).Fetch(ctx, harvest.FetchRequest{
		URL:          src.URL,
		ETag:         src.ETag,
		LastModified: src.LastModified,
		Headers:      src.Crawl.Headers,
	})
	if err != nil {
		return collected{}, fmt.Errorf("fetch list: %w", err)
	}
	if result.NotModified {
		return collected{notModified: true, etag: src.ETag, lastModified: src.LastModified}, nil
	}
	body := string(result.Body)
	if kw, blocked := r.sentinel.Detect(body); blocked {
		return collected{}, &antibot.BlockError{Keyword: kw, URL: src.URL, At: now}
	}

	col := collected{etag: result.ETag, lastModified: result.LastModified, bodies: map[string]string{}}
	base := result.FinalURL
	if base == "" {
		base = src.URL
	}

	switch src.Kind {
	case harvest.SourceKindRSS:
		entries, err := r.feeds.Parse(result.Body)
		if err != nil {
			return collected{}, fmt.Errorf("parse feed: %w", err)
		}
		for _, e := range entries {
			le := parser.ListEntry{URL: e.Link, Title: e.Title}
			if e.PublishedAt != nil {
				le.DateText = e.PublishedAt.Format("2006-01-02")
			}
			col.entries = append(col.entries, le)
			col.bodies[e.Link] = e.Content
		}
	case harvest.SourceKindHTML:
		entries, err := parser.ParseList(body, base, src.Crawl)
		if err != nil {
			return collected{}, fmt.Errorf("parse list: %w", err)
		}
		col.entries = entries
	default:
		return collected{}, fmt.Errorf("unknown source kind %q", src.Kind)
	}

	if max := src.Crawl.MaxLinks; max > 0 && len(col.entries) > max {
		col.entries = col.entries[:max]
	}
	return col, nil
}

type entryOutcome int

const (
	entrySkipped entryOutcome = iota
	entryNew
	entryChanged
)

// processEntry takes one candidate link through detail fetch, parse,
// dedup precheck, extraction and upsert. It returns a push candidate when
// the item came out pending and relevant. A BlockError aborts the source.
func (r *Runner) processEntry(ctx context.Context, src *harvest.Source, entry parser.ListEntry, feedBody string, stats *harvest.RunStats) (*push.Candidate, entryOutcome, error) {
	stats.Fetched++
	canonical := parser.CanonicalURL(entry.URL)
	existing, err := r.store.GetItem(ctx, src.ID, canonical)
	if err != nil {
		return nil, entrySkipped, fmt.Errorf("lookup item: %w", err)
	}

	detail, err := r.loadDetail(ctx, src, entry, feedBody)
	if err != nil {
		return nil, entrySkipped, err
	}

	title := firstNonEmpty(detail.Title, entry.Title)
	dateText := firstNonEmpty(detail.DateText, entry.DateText)
	fp := r.hasher.Fingerprint(title, dateText, detail.Content)

	// Dedup precheck runs before the extraction adapter so an unchanged
	// page never costs an extraction call.
	if existing != nil && existing.Fingerprint == fp {
		stats.Skipped++
		telemetry.CountItem("dedup_skip")
		return nil, entrySkipped, nil
	}

	item := &harvest.Item{
		SourceID:     src.ID,
		URL:          entry.URL,
		CanonicalURL: canonical,
		Title:        title,
		Content:      detail.Content,
		PublishedAt:  parser.ParseDate(dateText),
		Fingerprint:  fp,
		Status:       harvest.ItemStatusPending,
		ETag:         detail.etag,
		LastModified: detail.lastModified,
	}
	if existing != nil {
		item.ID = existing.ID
		item.PushedAt = existing.PushedAt
	}

	var record harvest.Record
	switch {
	case detail.Content == "":
		item.Status = harvest.ItemStatusSkipped
		item.SkipReason = harvest.SkipReasonNavigationPage
	case len([]rune(detail.Content)) < minUsableContentChars:
		item.Status = harvest.ItemStatusSkipped
		item.SkipReason = harvest.SkipReasonContentShort
	default:
		record, err = r.extract.Extract(ctx, harvest.ExtractInput{
			Text:               detail.Content,
			URL:                canonical,
			SourceLabel:        src.Name,
			TrustedAttachments: detail.Attachments,
		})
		if err != nil {
			return nil, entrySkipped, fmt.Errorf("extract: %w", err)
		}
		if digest, err := json.Marshal(record); err == nil {
			item.Digest = string(digest)
		}
		if !record.IsRelevant {
			item.Status = harvest.ItemStatusSkipped
			if record.Reason == extractor.ManualReviewReason {
				item.SkipReason = harvest.SkipReasonManualReview
			} else {
				item.SkipReason = harvest.SkipReasonNotRelevant
			}
		}
	}

	id, err := r.store.UpsertItem(ctx, item)
	if err != nil {
		return nil, entrySkipped, fmt.Errorf("upsert item: %w", err)
	}
	item.ID = id
	stats.Upserted++
	telemetry.CountItem("upserted")

	outcome := entryChanged
	if existing == nil {
		outcome = entryNew
	}

	if item.Status == harvest.ItemStatusSkipped {
		stats.Skipped++
		telemetry.CountItem(string(item.SkipReason))
		return nil, outcome, nil
	}

	// Late age policy: items older than the push window stay stored but
	// are retroactively marked skipped, never pushed.
	if d := r.effectiveDate(record, item); d != nil && r.clock.Now().Sub(*d) > r.cfg.MaxPushAge {
		if err := r.store.UpdateItemStatus(ctx, item.ID, harvest.ItemStatusSkipped, harvest.SkipReasonTooOld); err != nil {
			return nil, outcome, fmt.Errorf("mark too old: %w", err)
		}
		stats.Skipped++
		telemetry.CountItem(string(harvest.SkipReasonTooOld))
		return nil, outcome, nil
	}

	return &push.Candidate{
		Item:       item,
		Record:     record,
		SourceID:   src.ID,
		SourceName: src.Name,
	}, outcome, nil
}

// minUsableContentChars rejects near-empty detail pages before they reach
// the extraction service.
const minUsableContentChars = 80

// detailContent is the detail-page material processEntry works from,
// whether it came from the feed body or a fetched page.
type detailContent struct {
	Title        string
	DateText     string
	Content      string
	Attachments  []harvest.Attachment
	etag         string
	lastModified string
}

// loadDetail prefers feed-provided content when it is substantial enough;
// otherwise it fetches and parses the detail page.
func (r *Runner) loadDetail(ctx context.Context, src *harvest.Source, entry parser.ListEntry, feedBody string) (detailContent, error) {
	if len([]rune(feedBody)) >= minUsableContentChars {
		return detailContent{
			Title:    entry.Title,
			DateText: entry.DateText,
			Content:  feedBody,
		}, nil
	}

	result, err := r.fetcherFor(src).Fetch(ctx, harvest.FetchRequest{
		URL:     entry.URL,
		Headers: src.Crawl.Headers,
	})
	if err != nil {
		return detailContent{}, fmt.Errorf("fetch detail: %w", err)
	}
	body := string(result.Body)
	if kw, blocked := r.sentinel.Detect(body); blocked {
		return detailContent{}, &antibot.BlockError{Keyword: kw, URL: entry.URL, At: r.clock.Now()}
	}

	pageURL := result.FinalURL
	if pageURL == "" {
		pageURL = entry.URL
	}
	parsed, err := parser.ParseDetail(body, pageURL, src.Crawl)
	if err != nil {
		return detailContent{}, fmt.Errorf("parse detail: %w", err)
	}

	attachments := parsed.Attachments
	if r.prober != nil {
		attachments = parser.EnrichAttachments(ctx, body, pageURL, attachments, r.prober)
	}
	return detailContent{
		Title:        parsed.Title,
		DateText:     parsed.DateText,
		Content:      parsed.Content,
		Attachments:  attachments,
		etag:         result.ETag,
		lastModified: result.LastModified,
	}, nil
}

// effectiveDate picks the best publish date: extraction first, then the
// parsed page date.
func (r *Runner) effectiveDate(record harvest.Record, item *harvest.Item) *time.Time {
	if record.PublishDate != "" {
		if d := parser.ParseDate(record.PublishDate); d != nil {
			return d
		}
	}
	return item.PublishedAt
}

func (r *Runner) fetcherFor(src *harvest.Source) harvest.Fetcher {
	if f, ok := r.fetchers[src.Crawl.Transport]; ok && f != nil {
		return f
	}
	return r.fetchers[harvest.TransportHTTP]
}

func (r *Runner) writeRunState(ctx context.Context, src *harvest.Source, fetchedAt *time.Time, lastError string, stats harvest.RunStats) {
	state := harvest.SourceRunState{
		SourceID:      src.ID,
		ETag:          src.ETag,
		LastModified:  src.LastModified,
		LastFetchedAt: fetchedAt,
		LastError:     lastError,
		LastRunStats:  stats.Marshal(),
	}
	if err := r.store.UpdateSourceRunState(ctx, state); err != nil {
		r.logger.Error("write run state failed",
			zap.String("source", src.Name), zap.Error(err))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
