package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/domain/position"
	"tradelog/internal/domain/syncstate"
	"tradelog/internal/domain/table"
	"tradelog/internal/events"
	"tradelog/internal/services/reconcile"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

// memTable is an in-memory table.Store
type memTable struct {
	mu      sync.Mutex
	rows    map[string]table.Fields
	nextID  int
	creates int
	updates int
	listErr error
}

func newMemTable() *memTable {
	return &memTable{rows: make(map[string]table.Fields)}
}

func (m *memTable) FindRow(ctx context.Context, positionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.rows {
		if f[table.FieldPositionID] == positionID {
			return id, nil
		}
	}
	return "", nil
}

func (m *memTable) CreateRow(ctx context.Context, fields table.Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.creates++
	id := fmt.Sprintf("rec%d", m.nextID)
	m.rows[id] = copyFields(fields)
	return id, nil
}

func (m *memTable) UpdateRow(ctx context.Context, recordID string, fields table.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[recordID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "record %s", recordID)
	}
	for k, v := range fields {
		row[k] = v
	}
	m.updates++
	return nil
}

func (m *memTable) ListAllRows(ctx context.Context) (map[string]syncstate.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make(map[string]syncstate.CacheEntry, len(m.rows))
	for id, f := range m.rows {
		if pid, ok := f[table.FieldPositionID].(string); ok && pid != "" {
			out[pid] = syncstate.CacheEntry{RecordID: id}
		}
	}
	return out, nil
}

func copyFields(f table.Fields) table.Fields {
	out := make(table.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// memRepo is an in-memory syncstate.Repository. Each queued load error
// fails one Load, following the repository contract for its class.
type memRepo struct {
	saved    []byte
	saves    int
	loads    int
	loadErrs []error
}

func (r *memRepo) Load(ctx context.Context) (*syncstate.State, error) {
	r.loads++
	if len(r.loadErrs) > 0 {
		err := r.loadErrs[0]
		r.loadErrs = r.loadErrs[1:]
		if errors.Is(err, syncstate.ErrCorruptState) {
			return syncstate.New(), err
		}
		return nil, err
	}
	if r.saved == nil {
		return syncstate.New(), nil
	}
	return decodeState(r.saved)
}

func (r *memRepo) Save(ctx context.Context, s *syncstate.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	r.saved = data
	r.saves++
	return nil
}

func decodeState(data []byte) (*syncstate.State, error) {
	st := syncstate.New()
	if err := json.Unmarshal(data, st); err != nil {
		return syncstate.New(), err
	}
	return st, nil
}

type fakeExchange struct {
	name   string
	scheme position.Scheme
	open   []position.Position
	closed []position.ClosedPosition
	panics bool
}

func (f *fakeExchange) Name() string            { return f.name }
func (f *fakeExchange) Scheme() position.Scheme { return f.scheme }

func (f *fakeExchange) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	if f.panics {
		panic("adapter bug")
	}
	return f.open, nil
}

func (f *fakeExchange) GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error) {
	return f.closed, nil
}

type recordingPublisher struct {
	cycles []events.CycleCompleted
	rows   []events.RowSynced
}

func (p *recordingPublisher) PublishRowSynced(ctx context.Context, e events.RowSynced) error {
	p.rows = append(p.rows, e)
	return nil
}

func (p *recordingPublisher) PublishCycleCompleted(ctx context.Context, e events.CycleCompleted) error {
	p.cycles = append(p.cycles, e)
	return nil
}

type fakeLocker struct {
	grant    bool
	acquired int
	released int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.acquired++
	return l.grant, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.released++
	return nil
}

func newTestSync(
	exs []*fakeExchange,
	store *memTable,
	repo *memRepo,
	pub *recordingPublisher,
	locker Locker,
	bootstrap bool,
) *PositionSync {
	engine := reconcile.NewEngine(store, pub, reconcile.Config{}, logger.Nop())
	list := make([]exchanges.Exchange, 0, len(exs))
	for _, ex := range exs {
		list = append(list, ex)
	}
	ps := NewPositionSync(list, engine, store, repo, pub, locker, PositionSyncConfig{
		Interval:  time.Second,
		Bootstrap: bootstrap,
		LockKey:   "tradelog:lock",
	}, logger.Nop())
	ps.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local) }
	return ps
}

func btcLong() position.Position {
	return position.Position{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		Side:       position.SideLong,
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100),
		Leverage:   10,
		OpenTime:   1_700_000_000_000,
	}
}

func TestPositionSync_OpenThenClose(t *testing.T) {
	store := newMemTable()
	repo := &memRepo{}
	pub := &recordingPublisher{}
	ex := &fakeExchange{name: "binance", scheme: position.SchemeHolding, open: []position.Position{btcLong()}}

	ps := newTestSync([]*fakeExchange{ex}, store, repo, pub, nil, true)

	// cycle 1: the open position gets a row
	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
	require.Len(t, store.rows, 1)
	assert.Equal(t, table.StatusOpen, store.rows["rec1"][table.FieldStatus])

	// cycle 2: the position closed; its row is finalized in place
	ex.open = nil
	ex.closed = []position.ClosedPosition{{
		Exchange:    "binance",
		Symbol:      "BTCUSDT",
		Side:        position.SideLong,
		CloseID:     "9001",
		ExitPrice:   decimal.NewFromInt(120),
		Quantity:    decimal.NewFromInt(1),
		RealizedPnL: decimal.NewFromInt(20),
		OpenTime:    1_700_000_500_000,
		CloseTime:   1_700_000_600_000,
	}}
	require.NoError(t, ps.Run(context.Background()))

	assert.Equal(t, 1, store.creates)
	require.Len(t, store.rows, 1)
	row := store.rows["rec1"]
	assert.Equal(t, table.StatusProfit, row[table.FieldStatus])
	assert.Equal(t, "binance_BTCUSDT_long_9001", row[table.FieldPositionID])
	assert.Equal(t, 10, row[table.FieldLeverage])

	// state persisted with finalization and last sync time
	saved, err := decodeState(repo.saved)
	require.NoError(t, err)
	assert.True(t, saved.IsFinalized("binance_BTCUSDT_long_9001"))
	assert.Equal(t, "2024-05-01 12:00:00", saved.LastSyncTime)
	_, holding := saved.Entry(position.HoldingKey("binance", "BTCUSDT", position.SideLong))
	assert.False(t, holding)

	// checkpoint + final save per cycle
	assert.Equal(t, 4, repo.saves)

	require.Len(t, pub.cycles, 2)
	assert.Equal(t, 1, pub.cycles[0].Exchanges["binance"])
	assert.Equal(t, 1, pub.cycles[1].Exchanges["binance"])
	assert.NotEmpty(t, pub.cycles[1].CycleID)
	assert.NotEqual(t, pub.cycles[0].CycleID, pub.cycles[1].CycleID)

	stats := ps.Stats()
	assert.Equal(t, 1, stats.CachedRows)
	assert.Equal(t, 1, stats.FinalizedIDs)
	assert.Positive(t, stats.LastSyncSeconds)

	// cycle 3: replaying the same history writes nothing
	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, store.updates)
}

func TestPositionSync_ExchangeIsolation(t *testing.T) {
	store := newMemTable()
	repo := &memRepo{}
	broken := &fakeExchange{name: "bitget", scheme: position.SchemeTimestamp, panics: true}
	healthy := &fakeExchange{name: "binance", scheme: position.SchemeHolding, open: []position.Position{btcLong()}}

	ps := newTestSync([]*fakeExchange{broken, healthy}, store, repo, &recordingPublisher{}, nil, false)

	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
	assert.NotNil(t, repo.saved)
}

func TestPositionSync_BootstrapAdoptsExistingRows(t *testing.T) {
	store := newMemTable()
	store.rows["recX"] = table.Fields{table.FieldPositionID: "binance_BTCUSDT_long_HOLDING"}
	repo := &memRepo{}
	ex := &fakeExchange{name: "binance", scheme: position.SchemeHolding, open: []position.Position{btcLong()}}

	ps := newTestSync([]*fakeExchange{ex}, store, repo, &recordingPublisher{}, nil, true)

	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 0, store.creates)
	assert.Equal(t, 1, store.updates)
	assert.Equal(t, table.StatusOpen, store.rows["recX"][table.FieldStatus])
}

func TestPositionSync_BootstrapFailureIsTolerated(t *testing.T) {
	store := newMemTable()
	store.listErr = errors.ErrUnavailable
	ex := &fakeExchange{name: "binance", scheme: position.SchemeHolding, open: []position.Position{btcLong()}}

	ps := newTestSync([]*fakeExchange{ex}, store, &memRepo{}, &recordingPublisher{}, nil, true)

	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
}

func TestPositionSync_CorruptStateStartsEmpty(t *testing.T) {
	store := newMemTable()
	repo := &memRepo{loadErrs: []error{
		errors.Wrapf(syncstate.ErrCorruptState, "decode: unexpected end of JSON input"),
	}}
	ex := &fakeExchange{name: "binance", scheme: position.SchemeHolding, open: []position.Position{btcLong()}}

	ps := newTestSync([]*fakeExchange{ex}, store, repo, &recordingPublisher{}, nil, false)

	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 2, repo.saves)
}

func TestPositionSync_LockHeldElsewhere(t *testing.T) {
	store := newMemTable()
	repo := &memRepo{}
	locker := &fakeLocker{grant: false}
	ex := &fakeExchange{name: "binance", scheme: position.SchemeHolding, open: []position.Position{btcLong()}}

	ps := newTestSync([]*fakeExchange{ex}, store, repo, &recordingPublisher{}, locker, false)

	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 0, store.creates)
	assert.Equal(t, 0, repo.saves)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 0, locker.released)

	locker.grant = true
	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, locker.released)
}

func TestPositionSync_LoadFailureKeepsStoredState(t *testing.T) {
	store := newMemTable()
	store.rows["rec1"] = table.Fields{table.FieldPositionID: "binance_BTCUSDT_long_9001"}

	stored := syncstate.New()
	stored.PutEntry("binance_BTCUSDT_long_9001", syncstate.CacheEntry{RecordID: "rec1", Leverage: 10})
	stored.MarkFinalized("binance_BTCUSDT_long_9001")
	data, err := json.Marshal(stored)
	require.NoError(t, err)

	repo := &memRepo{saved: data, loadErrs: []error{errors.ErrUnavailable}}
	ex := &fakeExchange{name: "binance", scheme: position.SchemeHolding, closed: []position.ClosedPosition{{
		Exchange:    "binance",
		Symbol:      "BTCUSDT",
		Side:        position.SideLong,
		CloseID:     "9001",
		ExitPrice:   decimal.NewFromInt(120),
		Quantity:    decimal.NewFromInt(1),
		RealizedPnL: decimal.NewFromInt(20),
		Leverage:    10,
		CloseTime:   1_700_000_600_000,
	}}}

	ps := newTestSync([]*fakeExchange{ex}, store, repo, &recordingPublisher{}, nil, true)

	// cycle 1: the store is unreachable, nothing is written or saved
	err = ps.Run(context.Background())
	require.ErrorIs(t, err, errors.ErrUnavailable)
	assert.Zero(t, repo.saves)
	assert.Zero(t, store.updates)

	// cycle 2: the store is back and the finalized close stays finalized
	require.NoError(t, ps.Run(context.Background()))
	assert.Equal(t, 2, repo.loads)
	assert.Zero(t, store.creates)
	assert.Zero(t, store.updates)

	saved, err := decodeState(repo.saved)
	require.NoError(t, err)
	assert.True(t, saved.IsFinalized("binance_BTCUSDT_long_9001"))
}

func TestPositionSync_LockedInstancesShareState(t *testing.T) {
	store := newMemTable()
	repo := &memRepo{}
	ex := &fakeExchange{name: "okx", scheme: position.SchemeTimestamp, open: []position.Position{{
		Exchange:   "okx",
		Symbol:     "BTC",
		Side:       position.SideLong,
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100),
		Leverage:   5,
		OpenTime:   1_000_000,
	}}}

	a := newTestSync([]*fakeExchange{ex}, store, repo, &recordingPublisher{}, &fakeLocker{grant: true}, false)
	b := newTestSync([]*fakeExchange{ex}, store, repo, &recordingPublisher{}, &fakeLocker{grant: true}, false)

	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, b.Run(context.Background()))
	assert.Equal(t, 1, store.creates, "b sees the row a created")

	ex.open = nil
	ex.closed = []position.ClosedPosition{{
		Exchange:    "okx",
		Symbol:      "BTC",
		Side:        position.SideLong,
		CloseID:     "c1",
		EntryPrice:  decimal.NewFromInt(100),
		ExitPrice:   decimal.NewFromInt(110),
		Quantity:    decimal.NewFromInt(1),
		RealizedPnL: decimal.NewFromInt(10),
		OpenTime:    1_000_000,
		CloseTime:   2_000_000,
	}}

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 1, store.updates)

	// b held stale state from its previous cycle; it must not finalize again
	require.NoError(t, b.Run(context.Background()))
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, store.updates)

	saved, err := decodeState(repo.saved)
	require.NoError(t, err)
	assert.True(t, saved.IsFinalized("okx_BTC_long_c1"))
}
