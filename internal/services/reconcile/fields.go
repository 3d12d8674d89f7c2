package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"tradelog/internal/domain/position"
	"tradelog/internal/domain/table"
)

// OpenFields builds the row payload of an open position
func OpenFields(p position.Position, positionID string, now time.Time) table.Fields {
	f := table.Fields{
		table.FieldSymbol:     p.Symbol,
		table.FieldSide:       table.SideLabel(p.Side),
		table.FieldEntryPrice: p.EntryPrice.InexactFloat64(),
		table.FieldExitPrice:  0,
		table.FieldProfit:     p.UnrealizedPnL.InexactFloat64(),
		table.FieldStatus:     table.StatusOpen,
		table.FieldPositionID: positionID,
		table.FieldExchange:   p.Exchange,
	}
	if p.OpenTime > 0 {
		f[table.FieldOpenTime] = p.OpenTime
		if d := position.FormatDuration(p.OpenTime, now.UnixMilli()); d != "" {
			f[table.FieldDuration] = d + table.OpenDurationSuffix
		}
	}
	setLeverage(f, p.Leverage)
	setROE(f, position.OpenROE(p))
	return f
}

// closedRow carries everything resolved for a closed position before it is written
type closedRow struct {
	positionID string
	leverage   int
	entryPrice decimal.Decimal
	openTime   int64
	netProfit  decimal.Decimal
	roe        decimal.Decimal
}

// closedFields builds the row payload of a closed position. Unknown prices are
// left out so a value already in the row survives.
func closedFields(c position.ClosedPosition, r closedRow) table.Fields {
	status := table.StatusLoss
	if r.netProfit.IsPositive() {
		status = table.StatusProfit
	}

	f := table.Fields{
		table.FieldSymbol:     c.Symbol,
		table.FieldSide:       table.SideLabel(c.Side),
		table.FieldProfit:     r.netProfit.InexactFloat64(),
		table.FieldStatus:     status,
		table.FieldPositionID: r.positionID,
		table.FieldExchange:   c.Exchange,
	}
	if r.openTime > 0 {
		f[table.FieldOpenTime] = r.openTime
	}
	if c.CloseTime > 0 {
		f[table.FieldCloseTime] = c.CloseTime
	}
	if d := position.FormatDuration(r.openTime, c.CloseTime); d != "" {
		f[table.FieldDuration] = d
	}
	if r.entryPrice.IsPositive() {
		f[table.FieldEntryPrice] = r.entryPrice.InexactFloat64()
	}
	if c.ExitPrice.IsPositive() {
		f[table.FieldExitPrice] = c.ExitPrice.InexactFloat64()
	}
	if fees := c.Fees(); !fees.IsZero() {
		f[table.FieldFees] = fees.InexactFloat64()
	}
	setLeverage(f, r.leverage)
	setROE(f, r.roe)
	return f
}

// setLeverage writes leverage only when known. A zero cannot be told apart
// from "not computable" and must not replace a hand-entered value.
func setLeverage(f table.Fields, leverage int) {
	if leverage > 0 {
		f[table.FieldLeverage] = leverage
	}
}

// setROE writes ROE only when nonzero, for the same reason as setLeverage
func setROE(f table.Fields, roe decimal.Decimal) {
	if !roe.IsZero() {
		f[table.FieldROE] = roe.InexactFloat64()
	}
}
