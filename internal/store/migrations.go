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
		Name:    "create session meta and turns",
		SQL: `
			CREATE TABLE session_meta (
				id          INTEGER PRIMARY KEY CHECK (id = 1),
				key_str     TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE turns (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				role          TEXT NOT NULL,
				content       TEXT NOT NULL,
				tool_calls    TEXT,
				tool_call_id  TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL
			);
		`,
	},
	{
		Version: 2,
		Name:    "create usage counters",
		SQL: `
			CREATE TABLE usage (
				id             INTEGER PRIMARY KEY CHECK (id = 1),
				requests       INTEGER NOT NULL DEFAULT 0,
				input_tokens   INTEGER NOT NULL DEFAULT 0,
				output_tokens  INTEGER NOT NULL DEFAULT 0,
				total_tokens   INTEGER NOT NULL DEFAULT 0,
				updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			INSERT INTO usage (id) VALUES (1);
		`,
	},
}
