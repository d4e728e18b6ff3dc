package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/finshlink/internal/dispatch"
)

// Repository persists dispatch outcomes for post-hoc inspection. The
// scheduler's in-memory ring is the operational record; this store
// exists so link quality can be reviewed across restarts.
type Repository interface {
	Record(result dispatch.CycleResult) error
	Recent(ctx context.Context, limit int) ([]dispatch.CycleResult, error)
	Close() error
}

type Config struct {
	DBPath       string
	BatchSize    int
	BatchTimeout time.Duration
}

const (
	defaultBatchSize    = 16
	defaultBatchTimeout = 30 * time.Second
	defaultDirPerm      = 0o755
)
