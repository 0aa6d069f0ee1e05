package tools

import (
	"context"
	"errors"
	"math"
	"testing"

	"fleet/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type candleFeed struct {
	candles []market.Candle
	err     error

	lastSymbol   string
	lastInterval string
	lastLimit    int
}

func (f *candleFeed) FetchTickers(context.Context) ([]market.Ticker, error) { return nil, nil }

func (f *candleFeed) FetchCandles(_ context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	f.lastSymbol, f.lastInterval, f.lastLimit = symbol, interval, limit
	return f.candles, f.err
}

func syntheticCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := range out {
		// 缓慢上行的合成序列，保证指标可计算
		price += 0.5
		out[i] = market.Candle{Open: price - 0.3, High: price + 0.5, Low: price - 0.6, Close: price}
	}
	return out
}

func TestIndicatorInvoke(t *testing.T) {
	feed := &candleFeed{candles: syntheticCandles(120)}
	tool := NewIndicatorTool(feed, "1h", 120)

	out, err := tool.Invoke(context.Background(), map[string]string{"symbol": "btcusdt"})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", feed.lastSymbol)
	assert.Equal(t, "1h", feed.lastInterval)
	assert.Equal(t, 120, feed.lastLimit)
	assert.Contains(t, out, "RSI(14)=")
	assert.Contains(t, out, "MACD:")
	assert.Contains(t, out, "EMA21=")
	// 持续上行序列：价格应在均线上方
	assert.Contains(t, out, "上方")
}

func TestIndicatorInvokeOverrides(t *testing.T) {
	feed := &candleFeed{candles: syntheticCandles(60)}
	tool := NewIndicatorTool(feed, "1h", 120)

	_, err := tool.Invoke(context.Background(), map[string]string{
		"symbol": "ETHUSDT", "interval": "15m", "limit": "60",
	})
	require.NoError(t, err)
	assert.Equal(t, "15m", feed.lastInterval)
	assert.Equal(t, 60, feed.lastLimit)
}

func TestIndicatorInvokeMissingSymbol(t *testing.T) {
	tool := NewIndicatorTool(&candleFeed{}, "1h", 120)
	_, err := tool.Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}

func TestIndicatorInvokeTooFewCandles(t *testing.T) {
	tool := NewIndicatorTool(&candleFeed{candles: syntheticCandles(10)}, "1h", 120)
	_, err := tool.Invoke(context.Background(), map[string]string{"symbol": "BTCUSDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不足")
}

func TestIndicatorInvokeFeedError(t *testing.T) {
	tool := NewIndicatorTool(&candleFeed{err: errors.New("网络抖动")}, "1h", 120)
	_, err := tool.Invoke(context.Background(), map[string]string{"symbol": "BTCUSDT"})
	require.Error(t, err)
}

func TestRsiState(t *testing.T) {
	assert.Equal(t, "（超买）", rsiState(75))
	assert.Equal(t, "（超卖）", rsiState(25))
	assert.Equal(t, "", rsiState(50))
}

func TestRelativeState(t *testing.T) {
	assert.Equal(t, "上方", relativeState(105, 100))
	assert.Equal(t, "下方", relativeState(95, 100))
	assert.Equal(t, "未知", relativeState(95, 0))
	assert.Equal(t, "未知", relativeState(95, math.NaN()))
}

func TestLastValid(t *testing.T) {
	assert.Equal(t, 3.5, lastValid([]float64{0, 0, 3.5, 0}))
	assert.Equal(t, 0.0, lastValid([]float64{0, 0}))
	assert.Equal(t, 2.0, lastValid([]float64{1, 2, math.NaN()}))
}
