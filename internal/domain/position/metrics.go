package position

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const roePlaces = 4

// OpenROE returns the ROE of an open position: the reported value when nonzero,
// otherwise unrealized PnL over margin, otherwise zero.
func OpenROE(p Position) decimal.Decimal {
	if !p.ReportedROE.IsZero() {
		return p.ReportedROE.Round(roePlaces)
	}
	if p.MarginSize.IsPositive() {
		return p.UnrealizedPnL.Div(p.MarginSize).Round(roePlaces)
	}
	return decimal.Zero
}

// ClosedROE returns net profit over margin. cachedMargin is the margin observed
// while the position was open; when it is unknown the margin is recomputed from
// entry price, quantity and leverage. Zero means "not computable".
func ClosedROE(netProfit, cachedMargin, entryPrice, quantity decimal.Decimal, leverage int) decimal.Decimal {
	if cachedMargin.IsPositive() {
		return netProfit.Div(cachedMargin).Round(roePlaces)
	}
	if leverage > 0 && quantity.IsPositive() && entryPrice.IsPositive() {
		margin := entryPrice.Mul(quantity).Div(decimal.NewFromInt(int64(leverage)))
		if margin.IsPositive() {
			return netProfit.Div(margin).Round(roePlaces)
		}
	}
	return decimal.Zero
}

// NetProfit returns realized PnL plus fees. When the venue supplied no fee
// breakdown but did supply a net profit figure, that figure is used.
func NetProfit(c ClosedPosition) decimal.Decimal {
	fees := c.Fees()
	if fees.IsZero() && !c.NetProfit.IsZero() {
		return c.NetProfit
	}
	return c.RealizedPnL.Add(fees)
}

// MarginOf returns the margin committed to an open position, deriving it from
// notional and leverage when the venue does not report it
func MarginOf(p Position) decimal.Decimal {
	if p.MarginSize.IsPositive() {
		return p.MarginSize
	}
	if p.Leverage <= 0 {
		return decimal.Zero
	}
	return p.EntryPrice.Mul(p.Size.Abs()).Div(decimal.NewFromInt(int64(p.Leverage)))
}

// FormatDuration renders the span between two unix-millisecond timestamps as
// "Ns", "Mm Ss", "Hh Mm" or "Dd Hh". A missing bound yields "" and a reversed
// span (clock skew) yields "0s".
func FormatDuration(startMs, endMs int64) string {
	if startMs <= 0 || endMs <= 0 {
		return ""
	}
	diff := endMs - startMs
	if diff < 0 {
		return "0s"
	}

	seconds := diff / 1000
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	case seconds < 86400:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	default:
		return fmt.Sprintf("%dd %dh", seconds/86400, (seconds%86400)/3600)
	}
}
