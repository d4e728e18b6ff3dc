package telemetry

import (
	"database/sql"
)

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS dispatch_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp INTEGER NOT NULL,
            outcome TEXT NOT NULL,
            sequence_id INTEGER NOT NULL,
            attempts INTEGER NOT NULL,
            latency_ms INTEGER NOT NULL,
            ack_result INTEGER NOT NULL,
            error TEXT NOT NULL DEFAULT ''
        );
        CREATE INDEX IF NOT EXISTS idx_dispatch_log_timestamp ON dispatch_log(timestamp)
    `)
	if err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}

	return nil
}

const insertResultSQL = `
    INSERT INTO dispatch_log (
        timestamp, outcome, sequence_id, attempts, latency_ms, ack_result, error
    ) VALUES (?, ?, ?, ?, ?, ?, ?)
`

const selectRecentSQL = `
    SELECT timestamp, outcome, sequence_id, attempts, latency_ms, ack_result, error
    FROM dispatch_log
    ORDER BY id DESC
    LIMIT ?
`
