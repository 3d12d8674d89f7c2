package bootstrap

import (
	"tradelog/internal/metrics"
	"tradelog/internal/workers"
	"tradelog/internal/workers/trading"
)

// ========================================
// Phase 6: Background Processing
// ========================================

// MustInitBackground builds the position sync worker and its scheduler
func (c *Container) MustInitBackground() {
	var locker trading.Locker
	if c.Redis != nil && c.Config.Sync.LockKey != "" {
		locker = c.Redis
	}

	c.Background.PositionSync = trading.NewPositionSync(
		c.Adapters.Exchanges,
		c.Business.Engine,
		c.Adapters.Table,
		c.Repos.SyncState,
		c.Adapters.Publisher,
		locker,
		trading.PositionSyncConfig{
			Interval:  c.Config.Sync.Interval,
			Bootstrap: c.Config.Sync.BootstrapFromRows,
			LockKey:   c.Config.Sync.LockKey,
			LockTTL:   c.Config.Sync.LockTTL,
		},
		c.Log,
	)

	if err := metrics.RegisterStateCollector(metrics.NewStateCollector(c.Background.PositionSync)); err != nil {
		c.Log.Warnw("Failed to register state collector", "error", err)
	}

	c.Background.WorkerScheduler = workers.NewScheduler(c.Log)
	c.Background.WorkerScheduler.RegisterWorker(c.Background.PositionSync)
}
