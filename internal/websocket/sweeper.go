package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper evicts idle connections every interval until ctx is done.
func RunSweeper(ctx context.Context, hub *Hub, interval, idleTimeout time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("Idle sweeper started", zap.Duration("interval", interval), zap.Duration("idleTimeout", idleTimeout))
	for {
		select {
		case <-ctx.Done():
			logger.Info("Idle sweeper stopped")
			return
		case <-ticker.C:
			hub.Sweep(idleTimeout)
		}
	}
}
