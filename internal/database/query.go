package database

import (
	"database/sql"
	"time"
)

const selectOperations = `
	SELECT id, op_id, timestamp, source, path, seed, levels, files, bytes,
	       status, phase, temp_path, error_message, duration_ms
	FROM operations
`

// GetRecent returns the N most recent operations
func (d *HistoryDB) GetRecent(limit int) ([]OperationRecord, error) {
	return d.queryOperations(selectOperations+`ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// GetFailures returns the N most recent failed operations
func (d *HistoryDB) GetFailures(limit int) ([]OperationRecord, error) {
	return d.queryOperations(selectOperations+`WHERE status = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, StatusFailed, limit)
}

// GetIntermediate returns failures that left a payload in a temporary
// sibling and have not been followed by a recovery of the same path
func (d *HistoryDB) GetIntermediate() ([]OperationRecord, error) {
	return d.queryOperations(selectOperations + `
	WHERE status = 'failed' AND temp_path IS NOT NULL AND temp_path != ''
	  AND NOT EXISTS (
		SELECT 1 FROM operations r
		WHERE r.path = operations.path AND r.status = 'recovered' AND r.timestamp >= operations.timestamp
	  )
	ORDER BY timestamp DESC, id DESC
	`)
}

// GetByPath returns operations whose path matches a LIKE pattern
func (d *HistoryDB) GetByPath(pathPattern string) ([]OperationRecord, error) {
	return d.queryOperations(selectOperations+`WHERE path LIKE ? ORDER BY timestamp DESC, id DESC`, pathPattern)
}

// GetByDateRange returns operations within a time range
func (d *HistoryDB) GetByDateRange(start, end time.Time) ([]OperationRecord, error) {
	return d.queryOperations(selectOperations+`WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp DESC, id DESC`, start, end)
}

// GetRecentPaginated returns paginated recent operations with total count
func (d *HistoryDB) GetRecentPaginated(limit, offset int) ([]OperationRecord, int, error) {
	var totalCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM operations").Scan(&totalCount); err != nil {
		return nil, 0, err
	}
	records, err := d.queryOperations(selectOperations+`ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	return records, totalCount, err
}

// OperationStats holds aggregated statistics
type OperationStats struct {
	Total          int
	ByStatus       map[string]int
	FailedByPhase  map[string]int
	LevelsTotal    int64
	FilesRelocated int64
	BytesRelocated int64
	StartDate      time.Time
	EndDate        time.Time
}

// GetStats returns statistics for the last days
func (d *HistoryDB) GetStats(days int) (*OperationStats, error) {
	now := time.Now()
	since := now.AddDate(0, 0, -days)

	stats := &OperationStats{
		ByStatus:      make(map[string]int),
		FailedByPhase: make(map[string]int),
		StartDate:     since,
		EndDate:       now,
	}

	err := d.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(levels), 0), COALESCE(SUM(files), 0), COALESCE(SUM(bytes), 0)
		FROM operations
		WHERE timestamp >= ?
	`, since).Scan(&stats.Total, &stats.LevelsTotal, &stats.FilesRelocated, &stats.BytesRelocated)
	if err != nil {
		return nil, err
	}

	if err := d.countInto(stats.ByStatus, `
		SELECT status, COUNT(*) FROM operations WHERE timestamp >= ? GROUP BY status
	`, since); err != nil {
		return nil, err
	}
	if err := d.countInto(stats.FailedByPhase, `
		SELECT COALESCE(phase, ''), COUNT(*) FROM operations
		WHERE status = 'failed' AND timestamp >= ? GROUP BY phase
	`, since); err != nil {
		return nil, err
	}

	return stats, nil
}

func (d *HistoryDB) countInto(dst map[string]int, query string, args ...interface{}) error {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dst[key] = count
	}
	return rows.Err()
}

// DeleteOldRecords removes records older than specified days
func (d *HistoryDB) DeleteOldRecords(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	result, err := d.db.Exec(`DELETE FROM operations WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// queryOperations executes a query and scans the results
func (d *HistoryDB) queryOperations(query string, args ...interface{}) ([]OperationRecord, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OperationRecord
	for rows.Next() {
		var r OperationRecord
		var seed, phase, tempPath, errMsg sql.NullString

		err := rows.Scan(
			&r.ID, &r.OpID, &r.Timestamp, &r.Source, &r.Path, &seed,
			&r.Levels, &r.Files, &r.Bytes, &r.Status, &phase, &tempPath,
			&errMsg, &r.DurationMS,
		)
		if err != nil {
			return nil, err
		}
		r.Seed = seed.String
		r.Phase = phase.String
		r.TempPath = tempPath.String
		r.Error = errMsg.String

		records = append(records, r)
	}

	return records, rows.Err()
}
