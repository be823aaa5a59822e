package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleaner removes expired state from a store backend.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// RunCleanup invokes c at every interval until ctx is cancelled. The
// shared fixed-window backends already ignore expired rows on read, so
// this only reclaims space; run it in a goroutine alongside the server.
func RunCleanup(ctx context.Context, c Cleaner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.Cleanup(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Rate limit cleanup failed")
				continue
			}
			if removed > 0 {
				log.Debug().Int64("rows", removed).Msg("Removed expired rate limit counters")
			}
		}
	}
}
