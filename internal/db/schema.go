package db

import (
	"fmt"
	"strings"

	"github.com/marcus/rally/internal/events"
)

// SchemaVersion is the current database schema version
const SchemaVersion = 2

const baseSchema = `
-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Key-value area for sync bookkeeping, outside the checked collections
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Outbox of local mutations awaiting push
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL,
    scope_id TEXT NOT NULL DEFAULT '',
    row_id TEXT NOT NULL,
    action TEXT NOT NULL,
    doc TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_collection_scope ON outbox(collection, scope_id, id);
CREATE INDEX IF NOT EXISTS idx_outbox_row ON outbox(collection, row_id);
`

// collectionTable is the DDL shared by every document collection.
// updated_at is unix nanoseconds so ordering survives any JSON time format.
const collectionTable = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    scope_id TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    doc TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_scope ON %[1]s(scope_id, updated_at);
`

// schema returns the full DDL for a fresh database.
func schema() string {
	var b strings.Builder
	b.WriteString(baseSchema)
	for _, c := range events.GlobalCollections() {
		fmt.Fprintf(&b, collectionTable, c)
	}
	for _, c := range events.MatchCollections() {
		fmt.Fprintf(&b, collectionTable, c)
	}
	return b.String()
}
