package market

import (
	"context"
	"sort"
	"time"
)

// Ticker 单个可交易币种的最新行情。
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

// Candle 供分析工具使用的 K 线。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Snapshot 一次行情拉取的完整结果。整体替换，读方不可修改。
type Snapshot struct {
	Tickers   map[string]Ticker
	FetchedAt time.Time
}

func (s *Snapshot) Price(symbol string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	t, ok := s.Tickers[symbol]
	if !ok {
		return 0, false
	}
	return t.Price, true
}

// Filtered 返回白名单内的行情，按 symbol 排序。
func (s *Snapshot) Filtered(symbols []string) []Ticker {
	if s == nil || len(symbols) == 0 {
		return nil
	}
	out := make([]Ticker, 0, len(symbols))
	for _, sym := range symbols {
		if t, ok := s.Tickers[sym]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Feed 行情数据源。
type Feed interface {
	FetchTickers(ctx context.Context) ([]Ticker, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
