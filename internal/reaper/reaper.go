package reaper

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/whereabouts/internal/monitor"
	"nuha.dev/whereabouts/internal/store"
)

// Reaper purges identities whose last update fell out of the staleness
// window. It runs for the process lifetime, independent of connections.
type Reaper struct {
	store    *store.Store
	stats    *monitor.Stats
	interval time.Duration
	window   time.Duration
	log      log.Logger

	now func() time.Time
}

func New(st *store.Store, stats *monitor.Stats, interval, window time.Duration) *Reaper {
	r := &Reaper{store: st, stats: stats, interval: interval, window: window}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "reaper").Value()
	r.now = time.Now
	return r
}

// Run loops until the context is cancelled. A store failure here has no
// recovery path and takes the process down.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Fatal().Err(err).Msg("reaper sweep failed")
			}
		}
	}
}

// Sweep performs one purge cycle.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.window).Unix()
	n, err := r.store.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		r.stats.Reaped.Add(n)
		r.log.Info().Int64("rows", n).Msg("reaped stale identities")
	}
	return nil
}
