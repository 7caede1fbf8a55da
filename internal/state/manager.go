package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the ledger database inside the data directory
const DBFileName = "upload_log.db"

// Manager persists the upload ledger and the run history
type Manager struct {
	db *sqlx.DB
}

// NewManager opens (creating if needed) the ledger database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return Open(filepath.Join(dataDir, DBFileName))
}

// Open opens the ledger database at an explicit path
func Open(dbPath string) (*Manager, error) {
	// The pragmas live in the DSN so every pooled connection gets them.
	// A commit must survive a killed process, so keep full sync even in WAL mode.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc&_journal_mode=WAL&_sync=FULL&_busy_timeout=5000", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	manager := &Manager{db: db}

	if err := manager.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS upload_log (
	identifier TEXT NOT NULL,
	filename TEXT NOT NULL,
	size INTEGER,
	uploaded INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT,
	hash_algorithm TEXT,
	hash_mtime INTEGER,
	updated_at TIMESTAMP,
	PRIMARY KEY (identifier, filename)
);

CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL,
	local_dir TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMP NOT NULL,
	end_time TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	files_uploaded INTEGER DEFAULT 0,
	files_failed INTEGER DEFAULT 0,
	bytes_uploaded INTEGER DEFAULT 0,
	mismatches INTEGER DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_identifier_time ON runs(identifier, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// columns added after the original four-column upload_log layout
var ledgerColumns = []struct{ name, decl string }{
	{"content_hash", "TEXT"},
	{"hash_algorithm", "TEXT"},
	{"hash_mtime", "INTEGER"},
	{"updated_at", "TIMESTAMP"},
}

// initSchema creates the tables and upgrades a ledger written by the older
// four-column layout in place
func (m *Manager) initSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	var existing []string
	if err := m.db.SelectContext(ctx, &existing, `SELECT name FROM pragma_table_info('upload_log')`); err != nil {
		return fmt.Errorf("failed to inspect upload_log: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, col := range ledgerColumns {
		if have[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE upload_log ADD COLUMN %s %s", col.name, col.decl)
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
