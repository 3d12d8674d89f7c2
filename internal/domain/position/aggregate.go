package position

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type fillGroup struct {
	orderID    string
	side       string
	pnl        decimal.Decimal
	qty        decimal.Decimal
	notional   decimal.Decimal
	commission decimal.Decimal
	first      int64
	last       int64
}

// AggregateFills folds closing fills into one ClosedPosition per closing order.
// Fills with zero realized PnL are opening fills and are dropped.
// The exit price is the quantity-weighted average of the member fills.
func AggregateFills(exchange, symbol string, fills []Fill) []ClosedPosition {
	groups := make(map[string]*fillGroup)
	order := make([]string, 0)

	for _, f := range fills {
		if f.RealizedPnL.IsZero() {
			continue
		}
		g, ok := groups[f.OrderID]
		if !ok {
			g = &fillGroup{orderID: f.OrderID, side: f.Side, first: f.Time, last: f.Time}
			groups[f.OrderID] = g
			order = append(order, f.OrderID)
		}
		g.pnl = g.pnl.Add(f.RealizedPnL)
		g.qty = g.qty.Add(f.Qty)
		g.notional = g.notional.Add(f.Price.Mul(f.Qty))
		g.commission = g.commission.Add(f.Commission)
		if f.Time < g.first {
			g.first = f.Time
		}
		if f.Time > g.last {
			g.last = f.Time
		}
	}

	out := make([]ClosedPosition, 0, len(order))
	for _, id := range order {
		g := groups[id]
		avg := decimal.Zero
		if !g.qty.IsZero() {
			avg = g.notional.Div(g.qty)
		}
		out = append(out, ClosedPosition{
			Exchange:    exchange,
			Symbol:      symbol,
			Side:        closingSideToHold(g.side),
			CloseID:     g.orderID,
			ExitPrice:   avg,
			Quantity:    g.qty,
			RealizedPnL: g.pnl,
			CloseFee:    g.commission,
			OpenTime:    g.first,
			CloseTime:   g.last,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CloseTime < out[j].CloseTime })
	return out
}

// closingSideToHold maps the side of a closing fill to the side of the position it closed
func closingSideToHold(side string) Side {
	if strings.EqualFold(side, "SELL") {
		return SideLong
	}
	return SideShort
}
