// Package source collects raw readings from heterogeneous providers:
// host sensors, the GPU, and the cached weather and stock clients. Each
// provider fills its own section of metric.RawSources; the poller joins
// them into one snapshot per dispatch cycle.
package source

import (
	"context"

	"codeberg.org/mutker/finshlink/internal/metric"
)

// Source produces one section of a raw snapshot. Collect must respect
// ctx; a source that cannot produce anything this cycle returns an
// error and its section stays absent.
type Source interface {
	Name() string
	Collect(ctx context.Context) (metric.RawSources, error)
}
