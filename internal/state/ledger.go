package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ning0612/bulkupload/internal/domain"
)

type ledgerRow struct {
	Identifier    string         `db:"identifier"`
	Filename      string         `db:"filename"`
	Size          sql.NullInt64  `db:"size"`
	Uploaded      bool           `db:"uploaded"`
	ContentHash   sql.NullString `db:"content_hash"`
	HashAlgorithm sql.NullString `db:"hash_algorithm"`
	HashMtime     sql.NullInt64  `db:"hash_mtime"`
	UpdatedAt     sql.NullTime   `db:"updated_at"`
}

func (r ledgerRow) entry() domain.LedgerEntry {
	e := domain.LedgerEntry{
		Identifier:    r.Identifier,
		Path:          r.Filename,
		Size:          domain.UnknownSize,
		Uploaded:      r.Uploaded,
		ContentHash:   r.ContentHash.String,
		HashAlgorithm: r.HashAlgorithm.String,
	}
	if r.Size.Valid {
		e.Size = r.Size.Int64
	}
	if r.HashMtime.Valid {
		e.HashModTime = time.Unix(0, r.HashMtime.Int64)
	}
	if r.UpdatedAt.Valid {
		e.UpdatedAt = r.UpdatedAt.Time
	}
	return e
}

func newLedgerRow(identifier string, e domain.LedgerEntry) ledgerRow {
	r := ledgerRow{
		Identifier: identifier,
		Filename:   e.Path,
		Uploaded:   e.Uploaded,
	}
	if e.Size >= 0 {
		r.Size = sql.NullInt64{Int64: e.Size, Valid: true}
	}
	if e.ContentHash != "" {
		r.ContentHash = sql.NullString{String: e.ContentHash, Valid: true}
		r.HashAlgorithm = sql.NullString{String: e.HashAlgorithm, Valid: true}
		if !e.HashModTime.IsZero() {
			r.HashMtime = sql.NullInt64{Int64: e.HashModTime.UnixNano(), Valid: true}
		}
	}
	return r
}

const ledgerColumnsSQL = `identifier, filename, size, uploaded, content_hash, hash_algorithm, hash_mtime, updated_at`

// A row carrying no hash keeps the stored one only while the size is unchanged
const upsertSQL = `
INSERT INTO upload_log (identifier, filename, size, uploaded, content_hash, hash_algorithm, hash_mtime, updated_at)
VALUES (:identifier, :filename, :size, :uploaded, :content_hash, :hash_algorithm, :hash_mtime, CURRENT_TIMESTAMP)
ON CONFLICT(identifier, filename) DO UPDATE SET
	size = excluded.size,
	uploaded = excluded.uploaded,
	content_hash = CASE
		WHEN excluded.content_hash IS NOT NULL THEN excluded.content_hash
		WHEN upload_log.size IS excluded.size THEN upload_log.content_hash
		ELSE NULL END,
	hash_algorithm = CASE
		WHEN excluded.content_hash IS NOT NULL THEN excluded.hash_algorithm
		WHEN upload_log.size IS excluded.size THEN upload_log.hash_algorithm
		ELSE NULL END,
	hash_mtime = CASE
		WHEN excluded.content_hash IS NOT NULL THEN excluded.hash_mtime
		WHEN upload_log.size IS excluded.size THEN upload_log.hash_mtime
		ELSE NULL END,
	updated_at = CURRENT_TIMESTAMP
`

// Load returns every ledger entry of an identifier keyed by relative path
func (m *Manager) Load(ctx context.Context, identifier string) (map[string]domain.LedgerEntry, error) {
	var rows []ledgerRow
	query := `SELECT ` + ledgerColumnsSQL + ` FROM upload_log WHERE identifier = ?`
	if err := m.db.SelectContext(ctx, &rows, query, identifier); err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", identifier, err)
	}

	entries := make(map[string]domain.LedgerEntry, len(rows))
	for _, r := range rows {
		entries[r.Filename] = r.entry()
	}
	return entries, nil
}

// Get returns one entry, or nil when the path has no entry
func (m *Manager) Get(ctx context.Context, identifier, path string) (*domain.LedgerEntry, error) {
	var r ledgerRow
	query := `SELECT ` + ledgerColumnsSQL + ` FROM upload_log WHERE identifier = ? AND filename = ?`
	err := m.db.GetContext(ctx, &r, query, identifier, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry %s: %w", path, err)
	}

	e := r.entry()
	return &e, nil
}

// Upsert writes entries in one transaction. Each entry replaces the row
// with the same (identifier, path); a row is never left half written.
func (m *Manager) Upsert(ctx context.Context, identifier string, entries ...domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return err
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, newLedgerRow(identifier, e)); err != nil {
			return fmt.Errorf("failed to upsert ledger entry %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// LedgerStats summarises the entries of one identifier
type LedgerStats struct {
	Identifier string `db:"identifier"`
	Entries    int    `db:"entries"`
	Uploaded   int    `db:"uploaded"`
	Hashed     int    `db:"hashed"`
	Bytes      int64  `db:"bytes"`
}

// Stats returns the summary of one identifier
func (m *Manager) Stats(ctx context.Context, identifier string) (*LedgerStats, error) {
	var s LedgerStats
	err := m.db.GetContext(ctx, &s, `
		SELECT ? AS identifier,
			COUNT(*) AS entries,
			COALESCE(SUM(uploaded), 0) AS uploaded,
			COALESCE(SUM(content_hash IS NOT NULL), 0) AS hashed,
			COALESCE(SUM(CASE WHEN uploaded = 1 AND size > 0 THEN size ELSE 0 END), 0) AS bytes
		FROM upload_log WHERE identifier = ?`, identifier, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise ledger for %s: %w", identifier, err)
	}
	return &s, nil
}

// Identifiers lists every identifier present in the ledger
func (m *Manager) Identifiers(ctx context.Context) ([]string, error) {
	var ids []string
	if err := m.db.SelectContext(ctx, &ids, `SELECT DISTINCT identifier FROM upload_log ORDER BY identifier`); err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}
	return ids, nil
}
