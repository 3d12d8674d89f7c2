package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource StateStats

func (s staticSource) Stats() StateStats { return StateStats(s) }

func TestStateCollector(t *testing.T) {
	c := NewStateCollector(staticSource{CachedRows: 7, FinalizedIDs: 3, SyncedIDs: 5, LastSyncSeconds: 1700000000})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 4, testutil.CollectAndCount(c))
	count, err := testutil.GatherAndCount(reg, "tradelog_tracked_ids")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(ReconcileDecisions.WithLabelValues("x", "open", "created"))
	RecordDecision("x", "open", "created")
	assert.Equal(t, before+1, testutil.ToFloat64(ReconcileDecisions.WithLabelValues("x", "open", "created")))
}
