package policy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartSweeper periodically drops expired windows from the given limiters
// until ctx is cancelled.
func StartSweeper(
	ctx context.Context,
	interval time.Duration,
	limiters []*Limiter,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, l := range limiters {
					if removed := l.Sweep(now); removed > 0 {
						log.Debug("swept expired rate-limit windows",
							zap.String("limiter", l.Name()),
							zap.Int("removed", removed),
						)
					}
				}
			}
		}
	}()
}
