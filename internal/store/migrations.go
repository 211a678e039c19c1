package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents, threads and messages",
		SQL: `
			CREATE TABLE agents (
				id               TEXT PRIMARY KEY,
				owner_id         TEXT NOT NULL DEFAULT '',
				name             TEXT NOT NULL,
				display_name     TEXT NOT NULL,
				description      TEXT NOT NULL DEFAULT '',
				type             TEXT NOT NULL,
				provider         TEXT NOT NULL,
				model            TEXT NOT NULL,
				parent_thread_id TEXT REFERENCES threads(id) ON DELETE CASCADE,
				active           INTEGER NOT NULL DEFAULT 1,
				created_at       TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_agents_name ON agents (name);
			CREATE INDEX idx_agents_owner ON agents (owner_id, created_at);
			CREATE INDEX idx_agents_parent ON agents (parent_thread_id);

			CREATE TABLE threads (
				id              TEXT PRIMARY KEY,
				agent_id        TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
				title           TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL DEFAULT 'active',
				message_count   INTEGER NOT NULL DEFAULT 0,
				last_message_at TEXT,
				created_at      TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_threads_agent ON threads (agent_id);

			CREATE TABLE messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				thread_id   TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				tool_name   TEXT NOT NULL DEFAULT '',
				token_count INTEGER NOT NULL DEFAULT 0,
				streaming   INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL
			);

			CREATE INDEX idx_messages_thread ON messages (thread_id, created_at, id);
		`,
	},
	{
		Version: 2,
		Name:    "create message search index with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				content='messages',
				content_rowid='id'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.id, old.content);
			END;

			CREATE TRIGGER messages_au AFTER UPDATE OF content ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.id, old.content);
				INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
			END;
		`,
	},
}
