package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markcheno/go-talib"

	"fleet/internal/market"
)

// IndicatorTool 拉取 K 线并计算 RSI/MACD/EMA，输出紧凑文本摘要。
type IndicatorTool struct {
	Feed            market.Feed
	DefaultInterval string
	CandleLimit     int
}

func NewIndicatorTool(feed market.Feed, interval string, limit int) *IndicatorTool {
	if interval == "" {
		interval = "1h"
	}
	if limit <= 0 {
		limit = 200
	}
	return &IndicatorTool{Feed: feed, DefaultInterval: interval, CandleLimit: limit}
}

func (t *IndicatorTool) Name() string { return "indicators" }

func (t *IndicatorTool) Describe() string {
	return "计算技术指标（RSI14/MACD/EMA21/EMA50）。args: symbol 必填，interval 可选（默认 " + t.DefaultInterval + "）"
}

func (t *IndicatorTool) Invoke(ctx context.Context, args map[string]string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(args["symbol"]))
	if symbol == "" {
		return "", fmt.Errorf("缺少 symbol 参数")
	}
	interval := strings.TrimSpace(args["interval"])
	if interval == "" {
		interval = t.DefaultInterval
	}
	limit := t.CandleLimit
	if raw := strings.TrimSpace(args["limit"]); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	candles, err := t.Feed.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return "", fmt.Errorf("拉取 %s %s K线失败: %w", symbol, interval, err)
	}
	if len(candles) < 35 {
		return "", fmt.Errorf("%s %s K线不足（%d 根），无法计算指标", symbol, interval, len(candles))
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsi := lastValid(talib.Rsi(closes, 14))
	dif, dea, hist := talib.Macd(closes, 12, 26, 9)
	ema21 := lastValid(talib.Ema(closes, 21))
	ema50 := lastValid(talib.Ema(closes, 50))
	last := closes[len(closes)-1]

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s（%d 根K线）\n", symbol, interval, len(candles))
	fmt.Fprintf(&sb, "收盘=%.4f\n", last)
	fmt.Fprintf(&sb, "RSI(14)=%.2f %s\n", rsi, rsiState(rsi))
	fmt.Fprintf(&sb, "MACD: DIF=%.4f DEA=%.4f HIST=%.4f\n", lastValid(dif), lastValid(dea), lastValid(hist))
	fmt.Fprintf(&sb, "EMA21=%.4f EMA50=%.4f 价格位于 EMA21 %s、EMA50 %s\n",
		ema21, ema50, relativeState(last, ema21), relativeState(last, ema50))
	return sb.String(), nil
}

func rsiState(v float64) string {
	switch {
	case v >= 70:
		return "（超买）"
	case v <= 30:
		return "（超卖）"
	default:
		return ""
	}
}

func relativeState(price, ref float64) string {
	if ref == 0 || math.IsNaN(ref) {
		return "未知"
	}
	if price >= ref {
		return "上方"
	}
	return "下方"
}

// lastValid 返回序列末端最后一个非零非 NaN 值（talib 前导段补零）。
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if v != 0 && !math.IsNaN(v) {
			return v
		}
	}
	return 0
}
