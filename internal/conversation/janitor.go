package conversation

import (
	"context"
	"time"
)

// StartJanitor evicts conversations idle for longer than ttl every interval
// until ctx is done. report, when set, receives the outcome of every pass.
func StartJanitor(ctx context.Context, s Store, interval, ttl time.Duration, report func(evicted int, err error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.EvictIdle(ctx, time.Now().UTC().Add(-ttl))
				if report != nil {
					report(n, err)
				}
			}
		}
	}()
}
