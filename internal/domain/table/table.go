// Package table describes the remote trade-log table: its columns, status
// values and the store contract the sync engine writes through.
package table

import (
	"context"

	"tradelog/internal/domain/position"
	"tradelog/internal/domain/syncstate"
)

// Column names of the remote table
const (
	FieldOpenTime   = "开仓时间"
	FieldSymbol     = "币种"
	FieldSide       = "方向"
	FieldLeverage   = "杠杆"
	FieldEntryPrice = "入场价"
	FieldExitPrice  = "出场价"
	FieldProfit     = "收益额"
	FieldROE        = "收益率"
	FieldStatus     = "状态"
	FieldPositionID = "positionId"
	FieldCloseTime  = "平仓时间"
	FieldDuration   = "持仓时间"
	FieldExchange   = "交易所"
	FieldFees       = "手续费"
)

// Status values of FieldStatus
const (
	StatusOpen   = "持仓中"
	StatusProfit = "盈利"
	StatusLoss   = "亏损"
)

// Side labels of FieldSide
const (
	SideLong  = "多"
	SideShort = "空"
)

// OpenDurationSuffix marks the duration of a still-open position
const OpenDurationSuffix = " (ing)"

// SideLabel maps a position side to its column label
func SideLabel(s position.Side) string {
	if s == position.SideLong {
		return SideLong
	}
	return SideShort
}

// ParseSideLabel maps a column label back to a position side
func ParseSideLabel(label string) (position.Side, bool) {
	switch label {
	case SideLong:
		return position.SideLong, true
	case SideShort:
		return position.SideShort, true
	}
	return "", false
}

// Fields is a row mutation payload keyed by column name
type Fields map[string]interface{}

// Store is the remote table. FindRow returns "" with a nil error when no row
// matches; any error means the lookup itself failed and absence is unknown.
type Store interface {
	FindRow(ctx context.Context, positionID string) (string, error)
	CreateRow(ctx context.Context, fields Fields) (string, error)
	UpdateRow(ctx context.Context, recordID string, fields Fields) error
	ListAllRows(ctx context.Context) (map[string]syncstate.CacheEntry, error)
}
