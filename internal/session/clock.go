package session

import (
	"context"
	"time"

	"workout-engine/internal/models"

	"go.uber.org/zap"
)

// Clock the 1 Hz driver of the session timer, independent of the telemetry interval
type Clock struct {
	manager *Manager
	logger  *zap.Logger
}

func NewClock(manager *Manager, logger *zap.Logger) *Clock {
	return &Clock{manager: manager, logger: logger}
}

// Run ticks once per second until ctx is cancelled
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	c.run(ctx, ticker.C)
	return nil
}

func (c *Clock) run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.step(ctx)
		}
	}
}

// step advances the timer; the Manager ends the session in the same step once it completes
func (c *Clock) step(ctx context.Context) {
	tr, changed := c.manager.Tick(ctx)
	if changed && tr.To == models.PhaseComplete {
		c.logger.Info("Session completed by clock", zap.String("session_id", tr.SessionID))
	}
}
