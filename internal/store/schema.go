package store

// cacheSchema is the DDL for cache.db (spec.md §3/§6), applied with
// CREATE TABLE/INDEX IF NOT EXISTS so initSchema is idempotent —
// the same convention the teacher's chatstorage repository uses.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS messages_cache (
	chat_id          INTEGER NOT NULL,
	message_id       INTEGER NOT NULL,
	from_id          INTEGER,
	reply_to_id      INTEGER,
	forward_from_id  INTEGER,
	text             TEXT,
	message_type     TEXT NOT NULL DEFAULT 'unknown',
	has_media        INTEGER NOT NULL DEFAULT 0,
	is_outgoing      INTEGER NOT NULL DEFAULT 0,
	is_edited        INTEGER NOT NULL DEFAULT 0,
	is_pinned        INTEGER NOT NULL DEFAULT 0,
	is_deleted       INTEGER NOT NULL DEFAULT 0,
	edit_date        INTEGER,
	date             INTEGER NOT NULL,
	fetched_at       INTEGER NOT NULL,
	raw_json         TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_date ON messages_cache (chat_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_messages_fetched_at ON messages_cache (fetched_at);

CREATE TABLE IF NOT EXISTS chat_sync_state (
	chat_id            INTEGER NOT NULL UNIQUE,
	chat_type          TEXT NOT NULL,
	member_count       INTEGER,
	forward_cursor     INTEGER,
	backward_cursor    INTEGER,
	sync_priority      INTEGER NOT NULL DEFAULT 2,
	sync_enabled       INTEGER NOT NULL DEFAULT 0,
	history_complete   INTEGER NOT NULL DEFAULT 0,
	synced_messages    INTEGER NOT NULL DEFAULT 0,
	last_forward_sync  INTEGER,
	last_backward_sync INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chatsync_enabled_priority ON chat_sync_state (sync_enabled, sync_priority) WHERE sync_enabled = 1;

CREATE TABLE IF NOT EXISTS sync_jobs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id          INTEGER NOT NULL,
	job_type         TEXT NOT NULL,
	priority         INTEGER NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	cursor_start     INTEGER,
	cursor_end       INTEGER,
	messages_fetched INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT,
	created_at       INTEGER NOT NULL,
	started_at       INTEGER,
	completed_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_pending_priority ON sync_jobs (priority, created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_chat_status ON sync_jobs (chat_id, status);

CREATE TABLE IF NOT EXISTS rate_limits (
	method           TEXT NOT NULL,
	window_start     INTEGER NOT NULL,
	call_count       INTEGER NOT NULL DEFAULT 0,
	last_call_at     INTEGER,
	flood_wait_until INTEGER,
	PRIMARY KEY (method, window_start)
);

CREATE TABLE IF NOT EXISTS api_activity (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             INTEGER NOT NULL,
	method         TEXT NOT NULL,
	success        INTEGER NOT NULL,
	error_code     TEXT,
	response_ms    INTEGER,
	context        TEXT,
	correlation_id TEXT
);

CREATE TABLE IF NOT EXISTS daemon_status (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users_cache (
	user_id     INTEGER PRIMARY KEY,
	access_hash INTEGER NOT NULL DEFAULT 0,
	username    TEXT,
	phone       TEXT,
	first_name  TEXT,
	last_name   TEXT,
	is_bot      INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users_cache (username);
CREATE INDEX IF NOT EXISTS idx_users_phone ON users_cache (phone);

CREATE TABLE IF NOT EXISTS chats_cache (
	chat_id     INTEGER PRIMARY KEY,
	access_hash INTEGER NOT NULL DEFAULT 0,
	chat_type   TEXT NOT NULL,
	title       TEXT,
	username    TEXT,
	updated_at  INTEGER NOT NULL
);
`
