package source

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/metric"
)

const defaultCollectTimeout = 2 * time.Second

// Poller fans one collection pass out across all registered sources and
// joins the results. A failed or slow source costs its own section, never
// the cycle: the remaining sections still make it into the snapshot.
type Poller struct {
	sources []Source
	timeout time.Duration
}

func NewPoller(timeout time.Duration, sources ...Source) *Poller {
	if timeout <= 0 {
		timeout = defaultCollectTimeout
	}

	return &Poller{sources: sources, timeout: timeout}
}

// Poll runs all sources concurrently, each bounded by the per-source
// timeout, and merges their sections
func (p *Poller) Poll(ctx context.Context) metric.RawSources {
	results := make([]metric.RawSources, len(p.sources))

	var wg sync.WaitGroup
	for i, src := range p.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()

			collectCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			raw, err := src.Collect(collectCtx)
			if err != nil {
				logger.Debug().Err(err).Str("source", src.Name()).Msg("Source collection failed")

				return
			}

			results[i] = raw
		}(i, src)
	}
	wg.Wait()

	var joined metric.RawSources
	for _, raw := range results {
		if raw.Hardware != nil {
			joined.Hardware = raw.Hardware
		}
		if raw.Weather != nil {
			joined.Weather = raw.Weather
		}
		if raw.Stock != nil {
			joined.Stock = raw.Stock
		}
	}

	return joined
}
