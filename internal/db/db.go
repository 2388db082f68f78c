// Package db is the local-first document store: schema-checked collections
// keyed by id with an updated_at watermark, a durable push outbox, a small
// key-value area for sync bookkeeping, and per-collection change feeds.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/marcus/rally/internal/events"
	_ "modernc.org/sqlite"
)

const (
	dataDir = ".rally"
	dbFile  = ".rally/rally.db"
)

// ErrIncompatibleSchema is returned when the persisted schema is newer than
// this binary understands. It is not recoverable without a reset or upgrade.
var ErrIncompatibleSchema = errors.New("incompatible local schema")

// ErrNotFound is returned when a document does not exist or is deleted.
var ErrNotFound = errors.New("document not found")

// Clock supplies timestamps for local writes.
type Clock func() time.Time

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	baseDir string
	now     Clock
	log     *slog.Logger

	// mu serializes writers within the process; the file lock covers other processes.
	mu sync.Mutex

	subMu   sync.Mutex
	subs    map[events.Collection]map[int]chan Change
	nextSub int
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the clock used to stamp local writes.
func WithClock(c Clock) Option {
	return func(db *DB) { db.now = c }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

// Path returns the database file path under baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, dbFile)
}

// Open opens an existing database and runs any pending migrations
func Open(baseDir string, opts ...Option) (*DB, error) {
	dbPath := Path(baseDir)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'rally init' first")
	}

	return open(baseDir, opts)
}

// Initialize creates the database if needed and runs migrations
func Initialize(baseDir string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, dataDir), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(baseDir, opts)
}

func open(baseDir string, opts []Option) (*DB, error) {
	conn, err := sql.Open("sqlite", Path(baseDir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	db := &DB{
		conn:    conn,
		baseDir: baseDir,
		now:     time.Now,
		log:     slog.Default(),
		subs:    make(map[events.Collection]map[int]chan Change),
	}
	for _, opt := range opts {
		opt(db)
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if version > SchemaVersion {
		conn.Close()
		return nil, fmt.Errorf("%w: database is version %d, binary supports %d", ErrIncompatibleSchema, version, SchemaVersion)
	}

	if err := db.withWriteLock(func() error {
		if _, err := conn.Exec(schema()); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		_, err := db.runMigrationsInternal()
		return err
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleSchema, err)
	}

	return db, nil
}

// Close closes the database and every open change subscription
func (db *DB) Close() error {
	db.subMu.Lock()
	for c, subs := range db.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(db.subs, c)
	}
	db.subMu.Unlock()
	return db.conn.Close()
}

// BaseDir returns the base directory for the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// withWriteLock executes fn while holding the in-process mutex and an
// exclusive cross-process file lock.
func (db *DB) withWriteLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		// No row or no table yet: pre-migration database
		return 0, nil
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable schema version %q", ErrIncompatibleSchema, version)
	}
	return v, nil
}

// setSchemaVersionInternal sets schema version without acquiring lock
func (db *DB) setSchemaVersionInternal(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version))
	return err
}

// stamp returns a local write timestamp that is never older than prev.
func (db *DB) stamp(prev time.Time) time.Time {
	now := db.now().UTC()
	if !prev.IsZero() && !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
