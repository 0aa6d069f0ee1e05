// Package trading provides trading calculation utilities.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Fee 计算一笔金额按费率产生的手续费，四舍五入到 8 位。
func Fee(size, rate float64) float64 {
	if size <= 0 || rate <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(size).Mul(decFromFloat(rate)).Round(8))
}

// PnL 计算合约盈亏：(exit-entry) × (size×leverage/entry) × dir。
// dir: long=+1, short=-1。
func PnL(entry, exit, size float64, leverage int, dir float64) float64 {
	if entry <= 0 || size <= 0 || leverage <= 0 {
		return 0
	}
	quantity := decFromFloat(size).Mul(decimal.NewFromInt(int64(leverage))).Div(decFromFloat(entry))
	move := decFromFloat(exit).Sub(decFromFloat(entry))
	return decToFloat(move.Mul(quantity).Mul(decFromFloat(dir)).Round(8))
}

// LiquidationPrice 估算爆仓价：保证金亏完对应的标记价。
// long: entry × (1 - 1/lev)，short: entry × (1 + 1/lev)。
func LiquidationPrice(entry float64, leverage int, dir float64) float64 {
	if entry <= 0 || leverage <= 0 {
		return 0
	}
	inv := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(leverage)))
	factor := decimal.NewFromInt(1).Sub(inv.Mul(decFromFloat(dir)))
	return decToFloat(decFromFloat(entry).Mul(factor).Round(8))
}

// Round2 金额展示用，保留两位。
func Round2(val float64) float64 {
	return decToFloat(decFromFloat(val).Round(2))
}
