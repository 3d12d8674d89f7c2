package position

import (
	"github.com/shopspring/decimal"
)

// Side defines long or short
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid checks if position side is valid
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// String returns string representation
func (s Side) String() string {
	return string(s)
}

// Scheme describes how an exchange lets open positions be addressed across polls
type Scheme int

const (
	// SchemeTimestamp keys an open position by its creation time.
	SchemeTimestamp Scheme = iota
	// SchemeHolding keys an open position by a fixed per-(exchange, symbol, side) slot.
	// Used by venues whose open-position API carries no id or stable creation time.
	SchemeHolding
)

// String returns string representation
func (s Scheme) String() string {
	if s == SchemeHolding {
		return "holding"
	}
	return "timestamp"
}

// Position is an open derivatives position normalized by an exchange adapter.
// Timestamps are unix milliseconds.
type Position struct {
	Exchange string
	Symbol   string
	Side     Side

	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal

	Leverage   int
	MarginSize decimal.Decimal

	UnrealizedPnL decimal.Decimal
	ReportedROE   decimal.Decimal // zero when the venue does not report it

	OpenTime int64
}

// ClosedPosition is a finished position (or one aggregated closing order).
// Timestamps are unix milliseconds.
type ClosedPosition struct {
	Exchange string
	Symbol   string
	Side     Side

	// CloseID is the venue's native closing identifier, empty when the venue has none.
	CloseID string

	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal

	RealizedPnL decimal.Decimal
	OpenFee     decimal.Decimal
	CloseFee    decimal.Decimal
	FundingFee  decimal.Decimal
	NetProfit   decimal.Decimal // venue-supplied net profit, zero when absent

	Leverage int // venue-reported leverage, zero when absent

	OpenTime  int64
	CloseTime int64
}

// Fees returns the sum of open, close and funding fees (usually negative)
func (c ClosedPosition) Fees() decimal.Decimal {
	return c.OpenFee.Add(c.CloseFee).Add(c.FundingFee)
}

// Fill is a single trade execution as reported by a venue's trade history
type Fill struct {
	OrderID     string
	Symbol      string
	Side        string // BUY or SELL
	Price       decimal.Decimal
	Qty         decimal.Decimal
	RealizedPnL decimal.Decimal
	Commission  decimal.Decimal // signed, negative when paid
	Time        int64
}
