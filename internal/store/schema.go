package store

// schemaDDL is applied at startup. The pipeline never deletes rows; the
// audit table is append-only.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS sources (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL,
	url              TEXT NOT NULL,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	interval_minutes INT NOT NULL DEFAULT 60,
	priority         INT NOT NULL DEFAULT 0,
	region           TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	crawl_config     JSONB NOT NULL DEFAULT '{}'::jsonb,
	etag             TEXT NOT NULL DEFAULT '',
	last_modified    TEXT NOT NULL DEFAULT '',
	last_fetched_at  TIMESTAMPTZ,
	last_error       TEXT NOT NULL DEFAULT '',
	last_run_stats   TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS items (
	id            BIGSERIAL PRIMARY KEY,
	source_id     BIGINT NOT NULL REFERENCES sources(id),
	url           TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	published_at  TIMESTAMPTZ,
	fingerprint   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'PENDING',
	skip_reason   TEXT NOT NULL DEFAULT '',
	digest        TEXT NOT NULL DEFAULT '',
	pushed_at     TIMESTAMPTZ,
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (source_id, canonical_url)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id         BIGSERIAL PRIMARY KEY,
	item_id    BIGINT REFERENCES items(id),
	source_id  BIGINT NOT NULL,
	action     TEXT NOT NULL,
	result     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL DEFAULT '',
	important  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_source_window
	ON audit_logs (source_id, action, created_at);
`
