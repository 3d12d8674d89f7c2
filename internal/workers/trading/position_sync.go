package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/domain/syncstate"
	"tradelog/internal/domain/table"
	"tradelog/internal/events"
	"tradelog/internal/metrics"
	"tradelog/internal/services/reconcile"
	"tradelog/internal/workers"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

const (
	workerName = "position_sync"

	// LastSyncLayout is the local wall-clock format stored in last_sync_time
	LastSyncLayout = "2006-01-02 15:04:05"

	saveTimeout = 10 * time.Second
)

// Locker guards a cycle against a second process sharing the same state
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// PositionSyncConfig tunes the sync worker
type PositionSyncConfig struct {
	Interval time.Duration
	// Bootstrap seeds an empty row cache from the remote table before the first writes
	Bootstrap bool
	// LockKey enables the distributed cycle lock when a Locker is supplied
	LockKey string
	LockTTL time.Duration
}

// PositionSync polls every exchange and mirrors its positions into the table.
// One cycle runs the open phase for all exchanges, checkpoints state, then runs
// the history phase. A failing exchange never affects the others.
type PositionSync struct {
	*workers.BaseWorker
	exchanges []exchanges.Exchange
	engine    *reconcile.Engine
	store     table.Store
	repo      syncstate.Repository
	publisher events.Publisher
	locker    Locker
	cfg       PositionSyncConfig
	now       func() time.Time

	// state is owned by the worker goroutine
	state *syncstate.State

	statsMu sync.RWMutex
	stats   metrics.StateStats
}

// NewPositionSync creates a new position sync worker
func NewPositionSync(
	exs []exchanges.Exchange,
	engine *reconcile.Engine,
	store table.Store,
	repo syncstate.Repository,
	publisher events.Publisher,
	locker Locker,
	cfg PositionSyncConfig,
	log *logger.Logger,
) *PositionSync {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &PositionSync{
		BaseWorker: workers.NewBaseWorker(workerName, cfg.Interval, true, log),
		exchanges:  exs,
		engine:     engine,
		store:      store,
		repo:       repo,
		publisher:  publisher,
		locker:     locker,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Stats reports the state as of the end of the last cycle. Safe for concurrent use.
func (ps *PositionSync) Stats() metrics.StateStats {
	ps.statsMu.RLock()
	defer ps.statsMu.RUnlock()
	return ps.stats
}

// Run executes one sync cycle
func (ps *PositionSync) Run(ctx context.Context) error {
	if ps.locker != nil && ps.cfg.LockKey != "" {
		ok, err := ps.locker.AcquireLock(ctx, ps.cfg.LockKey, ps.cfg.LockTTL)
		if err != nil {
			return errors.Wrap(err, "acquire cycle lock")
		}
		if !ok {
			ps.Log().Infow("Another instance holds the sync lock, skipping cycle", "key", ps.cfg.LockKey)
			return nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
			defer cancel()
			if err := ps.locker.ReleaseLock(releaseCtx, ps.cfg.LockKey); err != nil {
				ps.Log().Warnw("Failed to release sync lock", "key", ps.cfg.LockKey, "error", err)
			}
		}()
		// Another instance may have written state since this one last held the lock.
		ps.state = nil
	}

	return ps.cycle(ctx)
}

func (ps *PositionSync) cycle(ctx context.Context) error {
	started := ps.now()
	cycleID := uuid.NewString()
	ctx = reconcile.WithCycleID(ctx, cycleID)
	log := ps.Log().With("cycle_id", cycleID)

	st, err := ps.ensureState(ctx, log)
	if err != nil {
		return err
	}
	ps.bootstrap(ctx, st, log)

	mutations := make(map[string]int, len(ps.exchanges))
	failures := 0

	for _, ex := range ps.exchanges {
		if ctx.Err() != nil {
			break
		}
		report, err := ps.isolate(ex.Name(), "open", log, func() (reconcile.Report, error) {
			positions, err := ex.GetOpenPositions(ctx)
			if err != nil {
				return reconcile.Report{}, err
			}
			metrics.RecordObserved(ex.Name(), "open", len(positions))
			return ps.engine.SyncOpen(ctx, st, ex.Scheme(), positions)
		})
		mutations[ex.Name()] += report.Mutations()
		failures += report.Failed
		if err != nil && report.Failed == 0 {
			failures++
		}
	}

	// checkpoint so open-phase writes survive a crash during the slower history phase
	if err := ps.save(ctx, st); err != nil {
		log.Warnw("Checkpoint save failed", "error", err)
	}

	for _, ex := range ps.exchanges {
		if ctx.Err() != nil {
			break
		}
		report, err := ps.isolate(ex.Name(), "history", log, func() (reconcile.Report, error) {
			closed, err := ex.GetClosedPositions(ctx)
			if err != nil {
				return reconcile.Report{}, err
			}
			metrics.RecordObserved(ex.Name(), "history", len(closed))
			return ps.engine.SyncHistory(ctx, st, ex.Scheme(), closed)
		})
		mutations[ex.Name()] += report.Mutations()
		failures += report.Failed
		if err != nil && report.Failed == 0 {
			failures++
		}
	}

	finished := ps.now()
	st.LastSyncTime = finished.Format(LastSyncLayout)
	saveErr := ps.save(ctx, st)
	ps.recordStats(st, finished)

	total := 0
	for _, n := range mutations {
		total += n
	}
	log.Infow("Sync cycle complete",
		"mutations", total,
		"failures", failures,
		"cached_rows", st.CacheLen(),
		"duration", finished.Sub(started),
	)

	event := events.CycleCompleted{
		CycleID:    cycleID,
		StartedAt:  started,
		Duration:   finished.Sub(started),
		Exchanges:  mutations,
		Failures:   failures,
		CacheSize:  st.CacheLen(),
		FinishedAt: finished,
	}
	if err := ps.publisher.PublishCycleCompleted(context.WithoutCancel(ctx), event); err != nil {
		log.Warnw("Failed to publish cycle summary", "error", err)
	}

	if saveErr != nil {
		return errors.Wrap(saveErr, "save sync state")
	}
	return ctx.Err()
}

// ensureState loads persisted state unless this process already holds it.
// Only undecodable state is replaced by an empty one; any other load failure
// skips the cycle so the stored state is never overwritten.
func (ps *PositionSync) ensureState(ctx context.Context, log *logger.Logger) (*syncstate.State, error) {
	if ps.state != nil {
		return ps.state, nil
	}

	st, err := ps.repo.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, syncstate.ErrCorruptState):
		log.Warnw("Stored sync state corrupt, starting empty", "error", err)
	default:
		return nil, errors.Wrap(err, "load sync state")
	}
	if st == nil {
		st = syncstate.New()
	}
	log.Infow("Sync state loaded",
		"cached_rows", st.CacheLen(),
		"finalized", len(st.FinalizedIDs()),
		"last_sync", st.LastSyncTime,
	)
	ps.state = st
	return st, nil
}

// bootstrap seeds an empty cache from the table so a lost state file does not
// cause duplicate rows. Failure is logged; the engine falls back to FindRow.
func (ps *PositionSync) bootstrap(ctx context.Context, st *syncstate.State, log *logger.Logger) {
	if !ps.cfg.Bootstrap || st.CacheLen() > 0 {
		return
	}
	rows, err := ps.store.ListAllRows(ctx)
	if err != nil {
		log.Warnw("Cache bootstrap from table failed", "error", err)
		return
	}
	added := st.MergeCache(rows)
	log.Infow("Cache bootstrapped from table", "rows", len(rows), "added", added)
}

// isolate runs one exchange phase, turning panics into errors
func (ps *PositionSync) isolate(
	exchange, phase string,
	log *logger.Logger,
	fn func() (reconcile.Report, error),
) (report reconcile.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrInternal, "panic in %s %s phase: %v", exchange, phase, r)
			log.Errorw("Exchange phase panicked", "exchange", exchange, "phase", phase, "panic", fmt.Sprint(r))
		}
	}()

	report, err = fn()
	if err != nil {
		log.Warnw("Exchange phase finished with errors",
			"exchange", exchange,
			"phase", phase,
			"failed", report.Failed,
			"error", err,
		)
		return report, err
	}
	if report.Mutations() > 0 || report.Finalized > 0 {
		log.Infow("Exchange phase applied",
			"exchange", exchange,
			"phase", phase,
			"created", report.Created,
			"updated", report.Updated,
			"finalized", report.Finalized,
			"skipped", report.Skipped,
			"untracked", report.Untracked,
		)
	}
	return report, nil
}

// save persists state even when the cycle context was cancelled by shutdown
func (ps *PositionSync) save(ctx context.Context, st *syncstate.State) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	err := ps.repo.Save(saveCtx, st)
	metrics.RecordStateSave(err)
	return err
}

func (ps *PositionSync) recordStats(st *syncstate.State, at time.Time) {
	ps.statsMu.Lock()
	defer ps.statsMu.Unlock()
	ps.stats = metrics.StateStats{
		CachedRows:      st.CacheLen(),
		FinalizedIDs:    len(st.FinalizedIDs()),
		SyncedIDs:       len(st.SyncedIDs()),
		LastSyncSeconds: float64(at.Unix()),
	}
}
