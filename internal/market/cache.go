package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fleet/internal/logger"
)

// Cache 保存最近一次行情快照，整体原子替换。
// 其它组件只读：拿到的 *Snapshot 在下一次替换前不会变化。
type Cache struct {
	feed Feed
	snap atomic.Pointer[Snapshot]
}

func NewCache(feed Feed) *Cache {
	return &Cache{feed: feed}
}

// Refresh 拉取全量行情并替换快照。失败时保留旧快照。
func (c *Cache) Refresh(ctx context.Context) error {
	if c == nil || c.feed == nil {
		return fmt.Errorf("market cache: feed not configured")
	}
	tickers, err := c.feed.FetchTickers(ctx)
	if err != nil {
		return err
	}
	byd := make(map[string]Ticker, len(tickers))
	for _, t := range tickers {
		if t.Symbol == "" || t.Price <= 0 {
			continue
		}
		byd[t.Symbol] = t
	}
	next := &Snapshot{Tickers: byd, FetchedAt: time.Now()}
	c.snap.Store(next)
	logger.Debugf("market: snapshot replaced, %d symbols", len(byd))
	return nil
}

// Snapshot 返回当前快照；启动初期可能为 nil。
func (c *Cache) Snapshot() *Snapshot {
	if c == nil {
		return nil
	}
	return c.snap.Load()
}

// Candles 透传给数据源（分析工具用）。
func (c *Cache) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if c == nil || c.feed == nil {
		return nil, fmt.Errorf("market cache: feed not configured")
	}
	return c.feed.FetchCandles(ctx, symbol, interval, limit)
}
