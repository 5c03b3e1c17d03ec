package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of schema migrations. Never edit an
// applied entry; append a new one.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversation state",
		SQL: `
			CREATE TABLE conversation_state (
				id          TEXT PRIMARY KEY,
				document    TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "index state by update time",
		SQL: `
			CREATE INDEX idx_conversation_state_updated ON conversation_state (updated_at);
		`,
	},
}
