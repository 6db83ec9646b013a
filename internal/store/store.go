// Package store provides Postgres-backed persistence for sources, items
// and audit rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolwatch/harvester/internal/harvest"
)

// pgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it for tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements harvest.Store on Postgres.
type Store struct {
	pool pgxPool
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing against pgxmock).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema applies the embedded DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const sourceColumns = `id, name, kind, url, active, interval_minutes, priority,
	region, category, crawl_config, etag, last_modified, last_fetched_at,
	last_error, last_run_stats`

// ListActiveSources returns active sources ordered by priority then id,
// optionally filtered by exact name. Crawl configs are validated and
// per-source overrides applied here, once per load.
func (s *Store) ListActiveSources(ctx context.Context, nameFilter string) ([]harvest.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE active ORDER BY priority DESC, id`
	args := []any{}
	if nameFilter != "" {
		query = `SELECT ` + sourceColumns + ` FROM sources WHERE active AND name = $1 ORDER BY priority DESC, id`
		args = append(args, nameFilter)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []harvest.Source
	for rows.Next() {
		var src harvest.Source
		var crawlRaw []byte
		if err := rows.Scan(
			&src.ID, &src.Name, &src.Kind, &src.URL, &src.Active,
			&src.IntervalMinutes, &src.Priority, &src.Region, &src.Category,
			&crawlRaw, &src.ETag, &src.LastModified, &src.LastFetchedAt,
			&src.LastError, &src.LastRunStats,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		cfg, err := harvest.ParseCrawlConfig(crawlRaw)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		src.Crawl = cfg
		if err := harvest.ApplyOverrides(&src); err != nil {
			return nil, fmt.Errorf("source %q override: %w", src.Name, err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// UpdateSourceRunState writes back a source's post-run state.
func (s *Store) UpdateSourceRunState(ctx context.Context, state harvest.SourceRunState) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sources
		SET etag = $2, last_modified = $3, last_fetched_at = $4,
			last_error = $5, last_run_stats = $6
		WHERE id = $1`,
		state.SourceID, state.ETag, state.LastModified, state.LastFetchedAt,
		state.LastError, state.LastRunStats,
	)
	if err != nil {
		return fmt.Errorf("update source run state: %w", err)
	}
	return nil
}

const itemColumns = `id, source_id, url, canonical_url, title, content,
	published_at, fingerprint, status, skip_reason, digest, pushed_at,
	etag, last_modified, created_at, updated_at`

// GetItem looks up an item by its unique key; missing items return nil.
func (s *Store) GetItem(ctx context.Context, sourceID int64, canonicalURL string) (*harvest.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE source_id = $1 AND canonical_url = $2`,
		sourceID, canonicalURL,
	)
	var item harvest.Item
	err := row.Scan(
		&item.ID, &item.SourceID, &item.URL, &item.CanonicalURL, &item.Title,
		&item.Content, &item.PublishedAt, &item.Fingerprint, &item.Status,
		&item.SkipReason, &item.Digest, &item.PushedAt, &item.ETag,
		&item.LastModified, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// UpsertItem creates or updates the item keyed on (source_id,
// canonical_url) and returns its id. The push timestamp is never touched
// here.
func (s *Store) UpsertItem(ctx context.Context, item *harvest.Item) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO items (source_id, url, canonical_url, title, content,
			published_at, fingerprint, status, skip_reason, digest, etag, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source_id, canonical_url) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			published_at = EXCLUDED.published_at,
			fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status,
			skip_reason = EXCLUDED.skip_reason,
			digest = EXCLUDED.digest,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			updated_at = NOW()
		RETURNING id`,
		item.SourceID, item.URL, item.CanonicalURL, item.Title, item.Content,
		item.PublishedAt, item.Fingerprint, item.Status, item.SkipReason,
		item.Digest, item.ETag, item.LastModified,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert item: %w", err)
	}
	return id, nil
}

// MarkItemPushed sets the push timestamp, once. A second call is a no-op
// by the pushed_at IS NULL guard.
func (s *Store) MarkItemPushed(ctx context.Context, itemID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE items SET pushed_at = $2, updated_at = NOW() WHERE id = $1 AND pushed_at IS NULL`,
		itemID, at,
	)
	if err != nil {
		return fmt.Errorf("mark item pushed: %w", err)
	}
	return nil
}

// UpdateItemStatus revises lifecycle status and skip reason.
func (s *Store) UpdateItemStatus(ctx context.Context, itemID int64, status harvest.ItemStatus, reason harvest.SkipReason) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE items SET status = $2, skip_reason = $3, updated_at = NOW() WHERE id = $1`,
		itemID, status, reason,
	)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	return nil
}

// InsertAudit appends one audit row.
func (s *Store) InsertAudit(ctx context.Context, entry harvest.AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (item_id, source_id, action, result, reason, actor, important)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ItemID, entry.SourceID, entry.Action, entry.Result,
		entry.Reason, entry.Actor, entry.Important,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// CountRecentPushes counts successful pushes for a source since the given
// instant, from the audit table.
func (s *Store) CountRecentPushes(ctx context.Context, sourceID int64, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE source_id = $1 AND action = $2 AND result = $3 AND created_at >= $4`,
		sourceID, harvest.AuditActionPush, harvest.AuditPushed, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent pushes: %w", err)
	}
	return count, nil
}
