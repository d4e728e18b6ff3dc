// Package telemetry stores dispatch outcomes in sqlite. Writes are
// batched in memory and flushed on size, on a timer, and on close.
package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/dispatch"
	"codeberg.org/mutker/finshlink/internal/finsh"
	"codeberg.org/mutker/finshlink/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config

	mu            sync.Mutex
	buffer        []dispatch.CycleResult
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()

		return nil, err
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	r := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]dispatch.CycleResult, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(cfg.BatchTimeout),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go r.flusher()

	return r, nil
}

func (r *repository) Record(result dispatch.CycleResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, result)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Recent(ctx context.Context, limit int) ([]dispatch.CycleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Buffered rows must be visible too
	if err := r.flush(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectRecentSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var results []dispatch.CycleResult
	for rows.Next() {
		var (
			ts        int64
			outcome   string
			seq       int64
			attempts  int
			latencyMs int64
			ackResult int64
			errText   string
		)
		if err := rows.Scan(&ts, &outcome, &seq, &attempts, &latencyMs, &ackResult, &errText); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}

		results = append(results, dispatch.CycleResult{
			At:         time.Unix(ts, 0),
			Outcome:    dispatch.Outcome(outcome),
			SequenceID: uint16(seq),
			Attempts:   attempts,
			Latency:    time.Duration(latencyMs) * time.Millisecond,
			AckResult:  finsh.AckResult(ackResult),
			Error:      errText,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return results, nil
}

func (r *repository) Close() error {
	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	r.logger.Info().Msg("Telemetry repository closed")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Final flush failed")
			}
			r.mu.Unlock()

			return
		}
	}
}

// flush writes the buffer in one transaction. The caller holds r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertResultSQL)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error().Err(rbErr).Msg("Rollback failed")
		}

		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, result := range r.buffer {
		_, err := stmt.Exec(
			result.At.Unix(),
			string(result.Outcome),
			int64(result.SequenceID),
			result.Attempts,
			result.Latency.Milliseconds(),
			int64(result.AckResult),
			result.Error,
		)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error().Err(rbErr).Msg("Rollback failed")
			}

			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed dispatch outcomes")
	r.buffer = r.buffer[:0]

	return nil
}
