package exchanges

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tradelog/internal/domain/position"
)

// Venue names, also used as the first segment of every position key
const (
	NameBinance = "binance"
	NameBitget  = "bitget"
	NameOKX     = "okx"
	NameBybit   = "bybit"
)

// Endpoint labels used in metrics
const (
	EndpointOpen   = "open_positions"
	EndpointClosed = "closed_positions"
)

// ParseDecimal parses a venue numeric string, malformed or empty input yields zero
func ParseDecimal(v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseInt64 parses a millisecond timestamp or id, zero on failure
func ParseInt64(v string) int64 {
	i, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return i
}

// ParseLeverage parses leverage strings like "10" or "12.5", truncating to whole multiples
func ParseLeverage(v string) int {
	return int(ParseDecimal(v).IntPart())
}

// Int64 coerces a JSON scalar (number or string) to int64
func Int64(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case json.Number:
		i, _ := val.Int64()
		return i
	case string:
		return ParseInt64(val)
	case nil:
		return 0
	default:
		return ParseInt64(fmt.Sprint(v))
	}
}

// SideFromHold maps "long"/"short" style hold sides. ok is false for anything else.
func SideFromHold(v string) (position.Side, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long":
		return position.SideLong, true
	case "short":
		return position.SideShort, true
	default:
		return "", false
	}
}
