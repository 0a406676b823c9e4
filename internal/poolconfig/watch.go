package poolconfig

import (
	"context"

	"github.com/kafitramarna/fibersql/internal/logger"
)

// Reconfigurable is the subset of *datasource.DataSource's method set
// Watch needs. Defined here rather than imported directly because
// datasource imports poolconfig for Tunables, so importing datasource
// from here would create an import cycle.
type Reconfigurable interface {
	Reconfigure(Tunables)
}

// Watch subscribes to store's reload channel and applies every published
// Tunables to target until ctx is canceled. Intended to be launched as
// `go poolconfig.Watch(ctx, store, ds)` alongside the server's lifetime.
func Watch(ctx context.Context, store *Store, target Reconfigurable) {
	updates, err := store.WatchPoolConfig(ctx)
	if err != nil {
		logger.Warn("poolconfig watch failed to subscribe", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-updates:
			if !ok {
				return
			}
			target.Reconfigure(t)
			logger.Info("pool reconfigured from redis",
				"min_connections", t.MinConnections,
				"max_connections", t.MaxConnections)
		}
	}
}
