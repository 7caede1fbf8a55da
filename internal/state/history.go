package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses
const (
	RunSuccess   = "success"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunRecord represents a single upload run
type RunRecord struct {
	ID            int64     `db:"id"`
	Identifier    string    `db:"identifier"`
	LocalDir      string    `db:"local_dir"`
	StartTime     time.Time `db:"start_time"`
	EndTime       time.Time `db:"end_time"`
	Status        string    `db:"status"`
	FilesUploaded int       `db:"files_uploaded"`
	FilesFailed   int       `db:"files_failed"`
	BytesUploaded int64     `db:"bytes_uploaded"`
	Mismatches    int       `db:"mismatches"`
	Error         string    `db:"error"`
}

// Duration is the wall time of the run
func (r RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

const runColumns = `id, identifier, local_dir, start_time, end_time, status, files_uploaded, files_failed, bytes_uploaded, mismatches, error`

// SaveRun records a finished run
func (m *Manager) SaveRun(ctx context.Context, record RunRecord) error {
	switch record.Status {
	case RunSuccess, RunPartial, RunFailed, RunCancelled:
	default:
		return fmt.Errorf("invalid status: %s (must be 'success', 'partial', 'failed', or 'cancelled')", record.Status)
	}

	query := `
		INSERT INTO runs (identifier, local_dir, start_time, end_time, status, files_uploaded, files_failed, bytes_uploaded, mismatches, error)
		VALUES (:identifier, :local_dir, :start_time, :end_time, :status, :files_uploaded, :files_failed, :bytes_uploaded, :mismatches, :error)
	`

	if _, err := m.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

// GetHistory retrieves the run history of one identifier, newest first
func (m *Manager) GetHistory(ctx context.Context, identifier string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var records []RunRecord
	query := `SELECT ` + runColumns + ` FROM runs WHERE identifier = ? ORDER BY start_time DESC LIMIT ?`
	if err := m.db.SelectContext(ctx, &records, query, identifier, limit); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return records, nil
}

// GetLastSuccess retrieves the last successful run of an identifier
func (m *Manager) GetLastSuccess(ctx context.Context, identifier string) (*RunRecord, error) {
	var record RunRecord
	query := `SELECT ` + runColumns + ` FROM runs WHERE identifier = ? AND status = 'success' ORDER BY start_time DESC LIMIT 1`
	err := m.db.GetContext(ctx, &record, query, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

// GetAllHistory retrieves the run history of every identifier
func (m *Manager) GetAllHistory(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var records []RunRecord
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY start_time DESC LIMIT ?`
	if err := m.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return records, nil
}
