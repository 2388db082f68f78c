package sync

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_rows (
    owner_id   TEXT NOT NULL,
    tbl        TEXT NOT NULL,
    id         TEXT NOT NULL,
    match_id   TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    deleted    INTEGER NOT NULL DEFAULT 0,
    doc        TEXT NOT NULL,
    PRIMARY KEY (tbl, id)
);
CREATE INDEX IF NOT EXISTS idx_sync_rows_page ON sync_rows(owner_id, tbl, updated_at, id);
CREATE INDEX IF NOT EXISTS idx_sync_rows_match ON sync_rows(owner_id, tbl, match_id, updated_at);

CREATE TABLE IF NOT EXISTS sync_changes (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id   TEXT NOT NULL,
    tbl        TEXT NOT NULL,
    row_id     TEXT NOT NULL,
    match_id   TEXT NOT NULL DEFAULT '',
    action     TEXT NOT NULL,
    doc        TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_changes_feed ON sync_changes(owner_id, tbl, seq);
`

// InitSchema creates the row and change log tables if they don't exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init sync schema: %w", err)
	}
	return nil
}
