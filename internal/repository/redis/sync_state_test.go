package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelog/internal/domain/syncstate"
)

func newTestRepo(t *testing.T, key string) (*SyncStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewSyncStateRepository(client, key), mr
}

func TestSyncStateRepository_RoundTrip(t *testing.T) {
	repo, mr := newTestRepo(t, "tradelog:state")
	ctx := context.Background()

	st, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.CacheLen())

	st.PutEntry("binance_BTCUSDT_long_HOLDING", syncstate.CacheEntry{RecordID: "rec", Leverage: 20})
	st.MarkFinalized("done")
	require.NoError(t, repo.Save(ctx, st))
	assert.True(t, mr.Exists("tradelog:state"))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	entry, ok := loaded.Entry("binance_BTCUSDT_long_HOLDING")
	require.True(t, ok)
	assert.Equal(t, 20, entry.Leverage)
	assert.True(t, loaded.IsFinalized("done"))
	assert.Zero(t, mr.TTL("tradelog:state"), "state never expires")
}

func TestSyncStateRepository_CorruptValue(t *testing.T) {
	repo, mr := newTestRepo(t, "k")
	require.NoError(t, mr.Set("k", "{not json"))

	st, err := repo.Load(context.Background())
	require.ErrorIs(t, err, syncstate.ErrCorruptState)
	require.NotNil(t, st)
	assert.Zero(t, st.CacheLen())
}

func TestSyncStateRepository_ConnectionError(t *testing.T) {
	repo, mr := newTestRepo(t, "k")
	require.NoError(t, mr.Set("k", `{"synced_ids":["a"]}`))
	mr.Close()

	st, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, syncstate.ErrCorruptState)
	assert.Nil(t, st)
}
