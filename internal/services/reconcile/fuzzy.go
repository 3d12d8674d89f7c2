package reconcile

import (
	"time"

	"tradelog/internal/domain/position"
)

// DefaultFuzzyTolerance is how far apart two open timestamps may be and still
// be treated as the same position
const DefaultFuzzyTolerance = 3 * time.Second

// FuzzyMatch picks, from candidate keys that already share the
// "{exchange}_{symbol}_{side}" prefix, the one whose embedded open timestamp is
// closest to openTime and within tolerance.
//
// This is a heuristic. The open and closed views of one trade sometimes report
// open times a few hundred milliseconds apart, so an exact key join misses. Two
// distinct positions opened within the tolerance on the same symbol and side
// are indistinguishable and will be joined; a drift larger than the tolerance
// is not joined and leads to a backfilled row instead.
func FuzzyMatch(openTime int64, candidates []string, tolerance time.Duration) (string, bool) {
	if openTime <= 0 {
		return "", false
	}

	limit := tolerance.Milliseconds()
	best := ""
	bestDiff := int64(-1)
	for _, key := range candidates {
		if position.IsHoldingKey(key) {
			continue
		}
		ts, ok := position.KeyTimestamp(key)
		if !ok {
			continue
		}
		diff := ts - openTime
		if diff < 0 {
			diff = -diff
		}
		if diff > limit {
			continue
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = key, diff
		}
	}
	return best, bestDiff >= 0
}
