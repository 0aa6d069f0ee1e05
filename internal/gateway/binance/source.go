package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fleet/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const maxCandleLimit = 1500

// Source 基于 go-binance SDK 实现 market.Feed（USDⓈ-M 合约公共行情）。
type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

// FetchTickers 拉取全市场 24h 统计，转换为快照行情。
func (s *Source) FetchTickers(ctx context.Context) ([]market.Ticker, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance ticker stats: %w", err)
	}
	out := make([]market.Ticker, 0, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		price := parseFloat(st.LastPrice)
		if price <= 0 {
			continue
		}
		out = append(out, market.Ticker{
			Symbol:    strings.ToUpper(st.Symbol),
			Price:     price,
			Change24h: parseFloat(st.PriceChangePercent),
		})
	}
	return out, nil
}

func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxCandleLimit {
		limit = maxCandleLimit
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s/%s: %w", symbol, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
