package directory

import (
	"context"
	"time"

	"kiosk/internal/metrics"
)

// RunSweeper clears stale attendance flags once at start and then every
// interval until ctx is cancelled.
func (d *Directory) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	sweep := func() {
		n, err := d.ClearStaleAttendance(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("attendance sweep failed")
			return
		}
		metrics.FlagsCleared.Add(float64(n))
	}

	sweep()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweep()
		}
	}
}
