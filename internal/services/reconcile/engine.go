package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradelog/internal/domain/position"
	"tradelog/internal/domain/syncstate"
	"tradelog/internal/domain/table"
	"tradelog/internal/events"
	"tradelog/internal/metrics"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

const (
	phaseOpen    = "open"
	phaseHistory = "history"
)

// Config tunes the engine
type Config struct {
	// HistoryPause is slept after every history-phase mutation to stay under
	// the table's write-rate ceiling
	HistoryPause time.Duration
	// FuzzyTolerance bounds FuzzyMatch
	FuzzyTolerance time.Duration
}

// Report counts the outcomes of one phase for one exchange
type Report struct {
	Created   int
	Updated   int
	Skipped   int
	Finalized int
	Untracked int // closed positions skipped because leverage was unknown
	Failed    int
}

// Mutations returns the number of remote writes the phase issued
func (r Report) Mutations() int {
	return r.Created + r.Updated
}

// Add merges another report into r
func (r *Report) Add(o Report) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Finalized += o.Finalized
	r.Untracked += o.Untracked
	r.Failed += o.Failed
}

// Engine decides and applies row mutations for observed positions.
// It is driven by a single goroutine and mutates the state it is handed.
type Engine struct {
	store     table.Store
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logger.Logger
}

// NewEngine creates a new reconciliation engine
func NewEngine(store table.Store, publisher events.Publisher, cfg Config, log *logger.Logger) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.FuzzyTolerance <= 0 {
		cfg.FuzzyTolerance = DefaultFuzzyTolerance
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepCtx,
		log:       log.With("component", "reconcile"),
	}
}

// SyncOpen reconciles the open positions of one exchange.
// Per-position failures are collected and returned; the remaining positions are still processed.
func (e *Engine) SyncOpen(ctx context.Context, st *syncstate.State, scheme position.Scheme, positions []position.Position) (Report, error) {
	var (
		report Report
		errs   errors.MultiError
	)

	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}

		outcome, err := e.syncOpenOne(ctx, st, scheme, p)
		if err != nil {
			report.Failed++
			errs.Add(err)
			e.log.Errorw("Open position sync failed",
				"exchange", p.Exchange,
				"symbol", p.Symbol,
				"side", p.Side,
				"error", err,
			)
			metrics.RecordDecision(p.Exchange, phaseOpen, "failed")
			continue
		}

		switch outcome {
		case events.ActionCreated:
			report.Created++
		case events.ActionUpdated, events.ActionAdopted:
			report.Updated++
		default:
			report.Skipped++
		}
		metrics.RecordDecision(p.Exchange, phaseOpen, outcomeLabel(outcome))
	}

	return report, errs.ToError()
}

func (e *Engine) syncOpenOne(ctx context.Context, st *syncstate.State, scheme position.Scheme, p position.Position) (events.Action, error) {
	key := position.OpenKey(p, scheme)

	var cached *syncstate.CacheEntry
	if entry, ok := st.Entry(key); ok {
		cached = &entry
	}

	margin := position.MarginOf(p)
	decision := Classify(cached, Observation{Kind: KindOpen, EntryPrice: p.EntryPrice, Leverage: p.Leverage})
	fields := OpenFields(withEarliestOpen(p, cached), key, e.now())

	switch decision {
	case DecisionSkip:
		// Margin drifts with the mark price; keep it fresh locally without a remote write.
		entry := *cached
		entry.MarginSize = margin
		st.PutEntry(key, entry)
		return "", nil

	case DecisionUpdateStructural:
		if err := e.store.UpdateRow(ctx, cached.RecordID, fields); err != nil {
			return "", errors.Wrapf(err, "update row %s", key)
		}
		e.remember(st, key, cached.RecordID, p, margin, cached)
		e.log.Infow("Position changed, row updated",
			"position_id", key,
			"entry_price", p.EntryPrice.String(),
			"previous_entry_price", cached.EntryPrice.String(),
			"leverage", p.Leverage,
			"previous_leverage", cached.Leverage,
		)
		e.publish(ctx, key, cached.RecordID, p.Exchange, p.Symbol, p.Side, events.ActionUpdated, table.StatusOpen, p.Leverage)
		return events.ActionUpdated, nil
	}

	// Not cached: a lookup failure must not be read as "absent", or a
	// duplicate row would be created.
	recordID, err := e.store.FindRow(ctx, key)
	if err != nil {
		return "", errors.Wrapf(errors.ErrAmbiguousLookup, "find row %s: %v", key, err)
	}

	action := events.ActionAdopted
	if recordID != "" {
		if err := e.store.UpdateRow(ctx, recordID, fields); err != nil {
			return "", errors.Wrapf(err, "update adopted row %s", key)
		}
	} else {
		action = events.ActionCreated
		recordID, err = e.store.CreateRow(ctx, fields)
		if err != nil {
			return "", errors.Wrapf(err, "create row %s", key)
		}
		if recordID == "" {
			return "", errors.Wrapf(errors.ErrRemoteRejected, "create row %s returned no record id", key)
		}
	}

	e.remember(st, key, recordID, p, margin, nil)
	st.MarkSynced(key)
	e.log.Infow("Open position synced",
		"position_id", key,
		"record_id", recordID,
		"action", action,
	)
	e.publish(ctx, key, recordID, p.Exchange, p.Symbol, p.Side, action, table.StatusOpen, p.Leverage)
	return action, nil
}

// remember refreshes the cache entry of an open position. An unknown observed
// leverage keeps the previously cached one.
func (e *Engine) remember(st *syncstate.State, key, recordID string, p position.Position, margin decimal.Decimal, prev *syncstate.CacheEntry) {
	entry := syncstate.CacheEntry{
		RecordID:   recordID,
		EntryPrice: p.EntryPrice,
		Leverage:   p.Leverage,
		MarginSize: margin,
		OpenTime:   p.OpenTime,
	}
	if prev != nil {
		if entry.Leverage == 0 {
			entry.Leverage = prev.Leverage
		}
		if prev.OpenTime > 0 && (entry.OpenTime == 0 || prev.OpenTime < entry.OpenTime) {
			entry.OpenTime = prev.OpenTime
		}
	}
	st.PutEntry(key, entry)
}

// withEarliestOpen keeps the open time first recorded for the slot. Venues
// reporting a last-update time would otherwise move it forward on every change.
func withEarliestOpen(p position.Position, cached *syncstate.CacheEntry) position.Position {
	if cached != nil && cached.OpenTime > 0 && (p.OpenTime == 0 || cached.OpenTime < p.OpenTime) {
		p.OpenTime = cached.OpenTime
	}
	return p
}

// SyncHistory reconciles the closed positions of one exchange, oldest close first.
// Every mutation is followed by the configured pause.
func (e *Engine) SyncHistory(ctx context.Context, st *syncstate.State, scheme position.Scheme, closed []position.ClosedPosition) (Report, error) {
	var (
		report Report
		errs   errors.MultiError
	)

	ordered := make([]position.ClosedPosition, len(closed))
	copy(ordered, closed)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CloseTime < ordered[j].CloseTime })

	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}

		outcome, err := e.syncClosedOne(ctx, st, scheme, c)
		if err != nil {
			report.Failed++
			errs.Add(err)
			e.log.Errorw("Closed position sync failed",
				"exchange", c.Exchange,
				"symbol", c.Symbol,
				"side", c.Side,
				"close_id", c.CloseID,
				"error", err,
			)
			metrics.RecordDecision(c.Exchange, phaseHistory, "failed")
			continue
		}

		switch outcome {
		case historyCreated:
			report.Created++
			report.Finalized++
		case historyUpdated:
			report.Updated++
			report.Finalized++
		case historyUntracked:
			report.Untracked++
		default:
			report.Skipped++
		}
		metrics.RecordDecision(c.Exchange, phaseHistory, string(outcome))

		if outcome == historyCreated || outcome == historyUpdated {
			if err := e.sleep(ctx, e.cfg.HistoryPause); err != nil {
				errs.Add(err)
				break
			}
		}
	}

	return report, errs.ToError()
}

type historyOutcome string

const (
	historySkipped   historyOutcome = "skipped"
	historyUntracked historyOutcome = "untracked"
	historyCreated   historyOutcome = "created"
	historyUpdated   historyOutcome = "updated"
)

func (e *Engine) syncClosedOne(ctx context.Context, st *syncstate.State, scheme position.Scheme, c position.ClosedPosition) (historyOutcome, error) {
	key := position.ClosedKey(c)

	if Classify(nil, Observation{Kind: KindClosed, Finalized: st.IsFinalized(key)}) == DecisionSkip {
		return historySkipped, nil
	}

	// Leverage comes only from a tracked open phase. A close without one was
	// opened before tracking began and writing now would clobber hand-entered data.
	link := e.linkOpen(st, scheme, c, key)
	leverage := link.entry.Leverage
	if leverage == 0 {
		e.log.Debugw("Closed position has no known leverage, skipping",
			"position_id", key,
		)
		return historyUntracked, nil
	}

	row := closedRow{
		positionID: key,
		leverage:   leverage,
		entryPrice: c.EntryPrice,
		openTime:   c.OpenTime,
	}
	if !row.entryPrice.IsPositive() {
		row.entryPrice = link.entry.EntryPrice
	}
	if link.entry.OpenTime > 0 && (row.openTime == 0 || link.entry.OpenTime < row.openTime) {
		row.openTime = link.entry.OpenTime
	}
	row.netProfit = position.NetProfit(c)
	row.roe = position.ClosedROE(row.netProfit, link.entry.MarginSize, row.entryPrice, c.Quantity, leverage)
	fields := closedFields(c, row)

	recordID, err := e.locateRow(ctx, st, c, key, &link)
	if err != nil {
		return "", err
	}

	outcome := historyUpdated
	if recordID != "" {
		if err := e.store.UpdateRow(ctx, recordID, fields); err != nil {
			return "", errors.Wrapf(err, "update row %s", key)
		}
	} else {
		outcome = historyCreated
		recordID, err = e.store.CreateRow(ctx, fields)
		if err != nil {
			return "", errors.Wrapf(err, "create row %s", key)
		}
		if recordID == "" {
			return "", errors.Wrapf(errors.ErrRemoteRejected, "create row %s returned no record id", key)
		}
	}

	st.PutEntry(key, syncstate.CacheEntry{
		RecordID:   recordID,
		EntryPrice: row.entryPrice,
		Leverage:   leverage,
		MarginSize: link.entry.MarginSize,
		OpenTime:   row.openTime,
	})
	// The linked open row now carries the closed identifier.
	if link.key != "" && link.key != key && link.recordID == recordID {
		st.DeleteEntry(link.key)
	}
	st.MarkSynced(key)
	st.MarkFinalized(key)

	e.log.Infow("Closed position finalized",
		"position_id", key,
		"record_id", recordID,
		"outcome", outcome,
		"linked_from", link.key,
		"net_profit", row.netProfit.String(),
	)
	e.publish(ctx, key, recordID, c.Exchange, c.Symbol, c.Side, events.ActionFinalize, fields[table.FieldStatus].(string), leverage)
	return outcome, nil
}

// openLink is the cached open-position entry a closed position was matched to
type openLink struct {
	key      string
	entry    syncstate.CacheEntry
	recordID string
	holding  bool
}

// linkOpen finds the cached entry describing the open phase of c: its own key,
// then the HOLDING slot if it was opened no later than c closed, then a fuzzy
// timestamp match among rows not yet finalized.
func (e *Engine) linkOpen(st *syncstate.State, scheme position.Scheme, c position.ClosedPosition, key string) openLink {
	if entry, ok := st.Entry(key); ok {
		return openLink{key: key, entry: entry, recordID: entry.RecordID}
	}

	if scheme == position.SchemeHolding {
		hk := position.HoldingKey(c.Exchange, c.Symbol, c.Side)
		entry, ok := st.Entry(hk)
		if !ok || c.CloseTime < entry.OpenTime {
			// empty, or held by a position opened after this close
			return openLink{}
		}
		return openLink{key: hk, entry: entry, recordID: entry.RecordID, holding: true}
	}

	prefix := position.KeyPrefix(c.Exchange, c.Symbol, c.Side) + "_"
	var candidates []string
	for _, k := range st.KeysWithPrefix(prefix) {
		if !st.IsFinalized(k) {
			candidates = append(candidates, k)
		}
	}
	if match, ok := FuzzyMatch(c.OpenTime, candidates, e.cfg.FuzzyTolerance); ok {
		entry, _ := st.Entry(match)
		return openLink{key: match, entry: entry}
	}
	return openLink{}
}

// locateRow finds the remote row to finalize: cached id, then the HOLDING
// slot, then a remote lookup by key, then the fuzzy-matched row. "" means
// none exists and a backfilled row must be created.
func (e *Engine) locateRow(ctx context.Context, st *syncstate.State, c position.ClosedPosition, key string, link *openLink) (string, error) {
	if link.key == key && link.recordID != "" {
		return link.recordID, nil
	}

	if link.holding {
		if link.recordID == "" {
			id, err := e.store.FindRow(ctx, link.key)
			if err != nil {
				return "", errors.Wrapf(errors.ErrAmbiguousLookup, "find holding row %s: %v", link.key, err)
			}
			link.recordID = id
		}
		if link.recordID != "" {
			e.log.Infow("Migrating holding row to closed position",
				"holding_key", link.key,
				"position_id", key,
				"record_id", link.recordID,
			)
			return link.recordID, nil
		}
	}

	id, err := e.store.FindRow(ctx, key)
	if err != nil {
		return "", errors.Wrapf(errors.ErrAmbiguousLookup, "find row %s: %v", key, err)
	}
	if id != "" {
		return id, nil
	}

	if !link.holding && link.key != "" && link.entry.RecordID != "" {
		link.recordID = link.entry.RecordID
		e.log.Infow("Closed position joined to open row by time window",
			"position_id", key,
			"matched_key", link.key,
			"record_id", link.recordID,
		)
		return link.recordID, nil
	}
	return "", nil
}

func (e *Engine) publish(ctx context.Context, key, recordID, exchange, symbol string, side position.Side, action events.Action, status string, leverage int) {
	err := e.publisher.PublishRowSynced(ctx, events.RowSynced{
		CycleID:    CycleIDFrom(ctx),
		PositionID: key,
		RecordID:   recordID,
		Exchange:   exchange,
		Symbol:     symbol,
		Side:       side.String(),
		Action:     action,
		Status:     status,
		Leverage:   leverage,
		OccurredAt: e.now(),
	})
	if err != nil {
		e.log.Warnw("Failed to publish row event", "position_id", key, "error", err)
	}
}

func outcomeLabel(a events.Action) string {
	if a == "" {
		return "skipped"
	}
	return string(a)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
