package exchange

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceGateway 通过签名接口查询合约账户，供实盘机器人对账。
type BinanceGateway struct {
	client *futures.Client
}

func NewBinanceGateway(apiKey, apiSecret, baseURL string, timeout time.Duration) *BinanceGateway {
	client := futures.NewClient(apiKey, apiSecret)
	if strings.TrimSpace(baseURL) != "" {
		client.BaseURL = strings.TrimSpace(baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceGateway{client: client}
}

func (g *BinanceGateway) AccountState(ctx context.Context) (AccountState, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return AccountState{}, fmt.Errorf("binance balance: %w", err)
	}
	for _, b := range balances {
		if b == nil || !strings.EqualFold(b.Asset, "USDT") {
			continue
		}
		return AccountState{
			Balance:   mustFloat(b.Balance),
			Available: mustFloat(b.AvailableBalance),
			UpdatedAt: time.Now(),
		}, nil
	}
	return AccountState{}, fmt.Errorf("binance balance: no USDT asset in response")
}

func (g *BinanceGateway) OpenPositions(ctx context.Context) ([]RemotePosition, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	out := make([]RemotePosition, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		qty := mustFloat(r.PositionAmt)
		if qty == 0 {
			continue
		}
		side := "long"
		if qty < 0 {
			side = "short"
		}
		lev, _ := strconv.Atoi(strings.TrimSpace(r.Leverage))
		out = append(out, RemotePosition{
			Symbol:           strings.ToUpper(r.Symbol),
			Side:             side,
			EntryPrice:       mustFloat(r.EntryPrice),
			Quantity:         math.Abs(qty),
			Leverage:         lev,
			UnrealizedPnL:    mustFloat(r.UnRealizedProfit),
			LiquidationPrice: mustFloat(r.LiquidationPrice),
		})
	}
	return out, nil
}

func mustFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
