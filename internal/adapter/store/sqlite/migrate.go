package sqlite

import (
	"database/sql"
	"fmt"
)

// baseSchema creates the v0 tables. Columns introduced after v0 are added by
// the additive pass in migrate so that stores created by older builds open
// cleanly.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS entries (
		id          TEXT PRIMARY KEY,
		date        TEXT NOT NULL,
		time        TEXT NOT NULL,
		type        TEXT NOT NULL,
		tags        TEXT NOT NULL DEFAULT '[]',
		content     TEXT NOT NULL,
		source_file TEXT NOT NULL DEFAULT ''
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
		content, tags, type,
		content=entries, content_rowid=rowid,
		tokenize='porter unicode61'
	);

	-- Triggers keep FTS in sync with the entries table; the vectors table is
	-- cleaned inside the same transaction by the write paths.
	CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
		INSERT INTO entries_fts(rowid, content, tags, type) VALUES (new.rowid, new.content, new.tags, new.type);
	END;

	CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
		INSERT INTO entries_fts(entries_fts, rowid, content, tags, type) VALUES ('delete', old.rowid, old.content, old.tags, old.type);
	END;

	CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
		INSERT INTO entries_fts(entries_fts, rowid, content, tags, type) VALUES ('delete', old.rowid, old.content, old.tags, old.type);
		INSERT INTO entries_fts(rowid, content, tags, type) VALUES (new.rowid, new.content, new.tags, new.type);
	END;

	CREATE TABLE IF NOT EXISTS vectors (
		rowid     INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL
	);
`

// lateColumns are the columns added after the first release, in introduction
// order. Each is created only if missing, so migration is idempotent and
// one-way-additive.
var lateColumns = []struct {
	name string
	ddl  string
}{
	{"tier", "ALTER TABLE entries ADD COLUMN tier TEXT"},
	{"access_count", "ALTER TABLE entries ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0"},
	{"last_accessed", "ALTER TABLE entries ADD COLUMN last_accessed TEXT"},
	{"pinned", "ALTER TABLE entries ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0"},
	{"archived", "ALTER TABLE entries ADD COLUMN archived INTEGER NOT NULL DEFAULT 0"},
	{"label", "ALTER TABLE entries ADD COLUMN label TEXT"},
	{"project", "ALTER TABLE entries ADD COLUMN project TEXT"},
	{"session_id", "ALTER TABLE entries ADD COLUMN session_id TEXT"},
	{"agent_id", "ALTER TABLE entries ADD COLUMN agent_id TEXT"},
}

const lateSchema = `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_rule_label
		ON entries(label) WHERE type = 'rule' AND label IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
	CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type);

	CREATE TABLE IF NOT EXISTS patterns (
		id               TEXT PRIMARY KEY,
		label            TEXT NOT NULL,
		entry_ids        TEXT NOT NULL DEFAULT '[]',
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		first_seen       TEXT NOT NULL,
		last_seen        TEXT NOT NULL,
		resolved         INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS file_pairs (
		project         TEXT NOT NULL,
		file_a          TEXT NOT NULL,
		file_b          TEXT NOT NULL,
		co_change_count INTEGER NOT NULL DEFAULT 1,
		last_seen       TEXT NOT NULL,
		PRIMARY KEY (project, file_a, file_b)
	);
`

// migrate creates the schema if absent and additively upgrades older stores:
// missing late columns are added, the pattern and file-pair tables are
// created, and tier is back-filled by type for rows that predate tiering.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(baseSchema); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}

	existing, err := tableColumns(db, "entries")
	if err != nil {
		return err
	}
	for _, col := range lateColumns {
		if existing[col.name] {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}

	if _, err := db.Exec(lateSchema); err != nil {
		return fmt.Errorf("late schema: %w", err)
	}

	// Back-fill tier by type for rows created before tiering existed.
	const backfill = `
		UPDATE entries SET tier = CASE
			WHEN type IN ('handoff', 'progress') THEN 'ephemeral'
			WHEN type = 'reference' THEN 'longterm'
			ELSE 'working'
		END
		WHERE tier IS NULL OR tier = ''
	`
	if _, err := db.Exec(backfill); err != nil {
		return fmt.Errorf("backfill tier: %w", err)
	}
	return nil
}

// tableColumns returns the set of column names present on a table.
func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
