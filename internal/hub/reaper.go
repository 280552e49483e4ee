package hub

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReapIdle force-unregisters every subscriber whose last activity is older
// than threshold and returns how many were removed. This is the only path
// that terminates a connection the client did not close itself.
func (h *Hub) ReapIdle(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)

	h.mu.RLock()
	var idle []string
	for id, sub := range h.subscribers {
		if sub.lastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range idle {
		h.logger.Info("Reaping idle client", zap.String("client_id", id))
		h.Unregister(id)
	}
	return len(idle)
}

// StartReaper runs ReapIdle on a fixed cadence until ctx is cancelled. It
// runs independently of any single connection's lifecycle.
func (h *Hub) StartReaper(ctx context.Context, every, threshold time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.ReapIdle(threshold)
			}
		}
	}()
}
