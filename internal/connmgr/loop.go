package connmgr

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller is background work driven by the control loop
type Poller interface {
	PollOnce()
}

// Run is the control loop: every interval it ticks the manager with the
// current time and then polls each poller once. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration, pollers ...Poller) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Control loop started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Control loop stopped")
			return
		case <-ticker.C:
			m.Tick(m.clock.Now())
			for _, p := range pollers {
				p.PollOnce()
			}
		}
	}
}
