package position

import (
	"fmt"
	"strconv"
	"strings"
)

// HoldingSuffix marks the fixed slot key of a SchemeHolding exchange
const HoldingSuffix = "HOLDING"

// KeyPrefix returns the "{exchange}_{symbol}_{side}" prefix shared by every key of a position
func KeyPrefix(exchange, symbol string, side Side) string {
	return fmt.Sprintf("%s_%s_%s", exchange, symbol, side)
}

// HoldingKey returns the fixed slot key for (exchange, symbol, side)
func HoldingKey(exchange, symbol string, side Side) string {
	return KeyPrefix(exchange, symbol, side) + "_" + HoldingSuffix
}

// OpenKey resolves the identifier of an open position.
// Concurrent same-side holdings on a SchemeHolding venue collapse into one key.
func OpenKey(p Position, scheme Scheme) string {
	if scheme == SchemeHolding {
		return HoldingKey(p.Exchange, p.Symbol, p.Side)
	}
	return KeyPrefix(p.Exchange, p.Symbol, p.Side) + "_" + strconv.FormatInt(p.OpenTime, 10)
}

// ClosedKey resolves the identifier of a closed position. A native closing id wins,
// otherwise the open timestamp is used so the key matches the open-position key.
func ClosedKey(c ClosedPosition) string {
	prefix := KeyPrefix(c.Exchange, c.Symbol, c.Side)
	if c.CloseID != "" {
		return prefix + "_" + c.CloseID
	}
	return prefix + "_" + strconv.FormatInt(c.OpenTime, 10)
}

// IsHoldingKey reports whether key is a fixed slot key
func IsHoldingKey(key string) bool {
	return strings.HasSuffix(key, "_"+HoldingSuffix)
}

// KeyTimestamp extracts the trailing millisecond timestamp of a timestamp-scheme key.
// ok is false for holding keys and keys whose suffix is not a number.
func KeyTimestamp(key string) (ts int64, ok bool) {
	idx := strings.LastIndexByte(key, '_')
	if idx < 0 || idx == len(key)-1 {
		return 0, false
	}
	ts, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
