package matching

import (
	"context"
	"log"
	"time"
)

const sweepInterval = 5 * time.Second

// StartSweeper runs the expired-entry sweep on a fixed interval until the
// context is cancelled. It is independent of any join or leave call and is
// the only path that garbage-collects abandoned queue entries (closed tabs,
// crashed clients).
func StartSweeper(ctx context.Context, m *Matcher) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[matcher] sweeper stopped")
				return
			case <-ticker.C:
				if err := m.CleanupExpired(ctx); err != nil {
					log.Printf("[matcher] sweep failed: %v", err)
				}
			}
		}
	}()
}
