package ledger

// SchemaVersion is the current ledger schema version.
const SchemaVersion = 1

// Schema creates the ledger tables. Times are stored as Unix nanoseconds
// so that range filters compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS usage (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    time_ns INTEGER NOT NULL,

    client_request_id TEXT,
    origin_request_id TEXT,

    requested_model TEXT,
    model TEXT NOT NULL,
    endpoint TEXT,
    user_initiated BOOLEAN NOT NULL DEFAULT 0,

    status INTEGER,
    finish_reason TEXT,

    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    cached_tokens INTEGER NOT NULL DEFAULT 0,
    reasoning_tokens INTEGER NOT NULL DEFAULT 0,

    bytes_forwarded INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    canceled BOOLEAN NOT NULL DEFAULT 0,
    error TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_time ON usage(time_ns);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage(model);
CREATE INDEX IF NOT EXISTS idx_usage_request_id ON usage(request_id);
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const usageColumns = `id, request_id, time_ns, client_request_id, origin_request_id,
	requested_model, model, endpoint, user_initiated, status, finish_reason,
	prompt_tokens, completion_tokens, cached_tokens, reasoning_tokens,
	bytes_forwarded, attempts, duration_ms, canceled, error`
