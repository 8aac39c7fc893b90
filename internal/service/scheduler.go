package service

import (
	"context"
	"time"
)

// every calls fn on each interval tick and returns once ctx is done. A
// non-positive interval disables the loop. Ticks that fire while fn is
// still running are coalesced by the ticker.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
