package feishu

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tradelog/internal/domain/syncstate"
	"tradelog/internal/domain/table"
)

// decodeRow turns a listed record into a cache entry keyed by its positionId.
// Rows without a positionId are not managed by the sync loop and are ignored.
func decodeRow(recordID string, fields map[string]interface{}) (string, syncstate.CacheEntry, bool) {
	positionID := textValue(cell(fields, table.FieldPositionID))
	if positionID == "" || recordID == "" {
		return "", syncstate.CacheEntry{}, false
	}

	entry := syncstate.CacheEntry{
		RecordID:   recordID,
		EntryPrice: numberValue(cell(fields, table.FieldEntryPrice)),
		Leverage:   int(numberValue(cell(fields, table.FieldLeverage)).IntPart()),
		OpenTime:   numberValue(cell(fields, table.FieldOpenTime)).IntPart(),
	}
	return positionID, entry, true
}

// cell re-encodes one SDK-decoded cell so its shape can be inspected
func cell(fields map[string]interface{}, name string) json.RawMessage {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// textValue reads a text cell. Bitable returns plain strings for some field
// types and rich-text segment arrays for others.
func textValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var segments []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var b strings.Builder
		for _, seg := range segments {
			b.WriteString(seg.Text)
		}
		return strings.TrimSpace(b.String())
	}
	return ""
}

// numberValue reads a number cell, tolerating numbers stored as text. Anything
// unreadable is zero.
func numberValue(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d
		}
	}

	if text := textValue(raw); text != "" {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return decimal.NewFromFloat(f)
		}
	}
	return decimal.Zero
}
