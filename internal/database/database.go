package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Operation statuses stored in the status column
const (
	StatusCollapsed = "collapsed"
	StatusNoop      = "noop"
	StatusFailed    = "failed"
	StatusRecovered = "recovered"
)

// HistoryDB manages the SQLite database of dehusk operations
type HistoryDB struct {
	db *sql.DB
}

// OperationRecord represents a single dehusk attempt
type OperationRecord struct {
	ID         int64
	OpID       string
	Timestamp  time.Time
	Source     string // cli, watch, extract, recover
	Path       string
	Seed       string
	Levels     int
	Files      int64
	Bytes      int64
	Status     string
	Phase      string // failed phase, empty on success
	TempPath   string // set when a failure left the payload in a temporary sibling
	Error      string
	DurationMS int64
}

// NewHistoryDB creates a new database connection and initializes schema
func NewHistoryDB(dbPath string) (*HistoryDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// _loc=auto enables automatic DATETIME parsing
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// sql.Open is lazy; this creates the file
	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}

	// WAL lets dehusk-query read while the watcher writes
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	hdb := &HistoryDB{db: db}
	if err = hdb.initSchema(); err != nil {
		return nil, err
	}
	return hdb, nil
}

// initSchema creates tables and indexes if they don't exist
func (d *HistoryDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op_id TEXT NOT NULL UNIQUE,
		timestamp DATETIME NOT NULL,
		source TEXT NOT NULL,
		path TEXT NOT NULL,
		seed TEXT,
		levels INTEGER NOT NULL DEFAULT 0,
		files INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		phase TEXT,
		temp_path TEXT,
		error_message TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_timestamp ON operations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_path ON operations(path);
	CREATE INDEX IF NOT EXISTS idx_status ON operations(status);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Record inserts an operation. OpID and Timestamp are filled in when empty;
// the stored values are written back to rec.
func (d *HistoryDB) Record(rec *OperationRecord) error {
	if rec.OpID == "" {
		rec.OpID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	res, err := d.db.Exec(`
	INSERT INTO operations (
		op_id, timestamp, source, path, seed, levels, files, bytes,
		status, phase, temp_path, error_message, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.OpID, rec.Timestamp, rec.Source, rec.Path, nullable(rec.Seed),
		rec.Levels, rec.Files, rec.Bytes, rec.Status,
		nullable(rec.Phase), nullable(rec.TempPath), nullable(rec.Error), rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record operation %s: %w", rec.Path, err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ping checks that the database is reachable
func (d *HistoryDB) Ping() error {
	return d.db.Ping()
}

// Close closes the database connection
func (d *HistoryDB) Close() error {
	return d.db.Close()
}

// Vacuum optimizes the database (run periodically)
func (d *HistoryDB) Vacuum() error {
	_, err := d.db.Exec("VACUUM")
	return err
}

// DatabaseStats describes the database file itself
type DatabaseStats struct {
	TotalRecords int64
	SizeBytes    int64
	Oldest       time.Time
	Newest       time.Time
}

// GetDatabaseStats returns database statistics
func (d *HistoryDB) GetDatabaseStats() (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	if err := d.db.QueryRow("SELECT COUNT(*) FROM operations").Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := d.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	stats.SizeBytes = pageCount * pageSize

	// Aggregates lose the DATETIME column type, so they come back as text
	var oldest, newest sql.NullString
	if err := d.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM operations").Scan(&oldest, &newest); err != nil {
		return nil, err
	}
	stats.Oldest = parseSQLiteTime(oldest)
	stats.Newest = parseSQLiteTime(newest)

	return stats, nil
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// parseSQLiteTime parses the text forms go-sqlite3 stores time.Time as
func parseSQLiteTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
