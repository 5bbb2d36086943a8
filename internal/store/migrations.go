package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id               TEXT PRIMARY KEY,
	number           INTEGER NOT NULL UNIQUE,
	conversation_key TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	requester_email  TEXT NOT NULL DEFAULT '',
	requester_name   TEXT NOT NULL DEFAULT '',
	member_number    TEXT NOT NULL DEFAULT '',
	member_tier      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'open',
	delivery         TEXT NOT NULL DEFAULT 'normal' CHECK(delivery IN ('normal', 'undelivered')),
	event_count      INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_events (
	id          TEXT PRIMARY KEY,
	ticket_id   TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	message_uid TEXT NOT NULL,
	sender      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	body_path   TEXT NOT NULL DEFAULT '',
	delivery    TEXT NOT NULL DEFAULT 'normal' CHECK(delivery IN ('normal', 'undelivered')),
	received_at DATETIME NOT NULL,
	UNIQUE(ticket_id, message_uid)
);

CREATE TABLE IF NOT EXISTS attachment_refs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id    TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	message_uid  TEXT NOT NULL,
	filename     TEXT NOT NULL,
	stored_path  TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	UNIQUE(ticket_id, message_uid, filename)
);

CREATE TABLE IF NOT EXISTS seen_messages (
	uid     TEXT PRIMARY KEY,
	seen_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	conversation_key TEXT PRIMARY KEY,
	ticket_id        TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS members (
	number     TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	tier       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS undelivered_notices (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	message_uid TEXT NOT NULL UNIQUE,
	sender      TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_conversation ON tickets(conversation_key);
CREATE INDEX IF NOT EXISTS idx_tickets_requester ON tickets(requester_email);
CREATE INDEX IF NOT EXISTS idx_tickets_updated_at ON tickets(updated_at);
CREATE INDEX IF NOT EXISTS idx_ticket_events_ticket ON ticket_events(ticket_id);
CREATE INDEX IF NOT EXISTS idx_attachment_refs_ticket ON attachment_refs(ticket_id);
CREATE INDEX IF NOT EXISTS idx_members_email ON members(email);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
