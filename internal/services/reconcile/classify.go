package reconcile

import (
	"github.com/shopspring/decimal"

	"tradelog/internal/domain/syncstate"
)

// Decision is the row mutation implied by one observation
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionCreate
	DecisionUpdateStructural
	DecisionFinalize
)

// String returns string representation
func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionUpdateStructural:
		return "update_structural"
	case DecisionFinalize:
		return "finalize"
	default:
		return "skip"
	}
}

// Kind tells open observations from closed ones
type Kind int

const (
	KindOpen Kind = iota
	KindClosed
)

// Observation is what a poll saw for one identifier
type Observation struct {
	Kind       Kind
	EntryPrice decimal.Decimal
	Leverage   int  // zero when unknown
	Finalized  bool // closed observations only
}

// priceTolerance is the relative entry price move that counts as averaging in
var priceTolerance = decimal.New(1, -6)

// Classify maps the cached view of an identifier and a fresh observation to a
// decision. It performs no I/O.
//
//	open,   not cached                  -> Create
//	open,   cached, price/leverage moved -> UpdateStructural
//	open,   cached, unchanged            -> Skip (PnL drift alone never writes)
//	closed, finalized                    -> Skip
//	closed, not finalized                -> Finalize
func Classify(cached *syncstate.CacheEntry, obs Observation) Decision {
	if obs.Kind == KindClosed {
		if obs.Finalized {
			return DecisionSkip
		}
		return DecisionFinalize
	}

	if cached == nil || cached.RecordID == "" {
		return DecisionCreate
	}
	if StructuralChange(*cached, obs.EntryPrice, obs.Leverage) {
		return DecisionUpdateStructural
	}
	return DecisionSkip
}

// StructuralChange reports whether entry price moved by more than one part per
// million or leverage changed. An unknown (zero) observed leverage is not a change.
func StructuralChange(cached syncstate.CacheEntry, entryPrice decimal.Decimal, leverage int) bool {
	threshold := entryPrice.Abs().Mul(priceTolerance)
	if entryPrice.Sub(cached.EntryPrice).Abs().GreaterThan(threshold) {
		return true
	}
	return leverage != 0 && leverage != cached.Leverage
}
