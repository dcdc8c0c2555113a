package ingest

import (
	"context"
	"time"
)

// SweepStale periodically fails documents stuck in processing longer than
// timeout, e.g. after a worker crash mid-ingestion, dropping whatever chunks
// and vectors the dead worker got around to writing. A failed document can
// be recovered with a re-ingest. Blocks until ctx is done.
func (p *Pipeline) SweepStale(ctx context.Context, timeout, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := p.store.ResetStaleProcessing(ctx, time.Now().Add(-timeout))
			if err != nil {
				p.log.Error("stale processing sweep failed", "err", err)
				continue
			}
			if n > 0 {
				p.log.Warn("reset stale processing documents", "count", n, "timeout", timeout)
			}
		}
	}
}
