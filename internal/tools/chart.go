package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"fleet/internal/market"
)

// ChartTool 渲染 K 线快照图（go-echarts 出 HTML，headless chrome 截图），
// 以 data URI 返回，管线会把它作为图片附加给 vision 模型。
type ChartTool struct {
	Feed        market.Feed
	Interval    string
	CandleLimit int
	WidthPx     int
	HeightPx    int
}

func NewChartTool(feed market.Feed, interval string, limit, width, height int) *ChartTool {
	if interval == "" {
		interval = "1h"
	}
	if limit <= 0 {
		limit = 120
	}
	if width <= 0 {
		width = 1200
	}
	if height <= 0 {
		height = 600
	}
	return &ChartTool{Feed: feed, Interval: interval, CandleLimit: limit, WidthPx: width, HeightPx: height}
}

func (t *ChartTool) Name() string { return "kline_chart" }

func (t *ChartTool) Describe() string {
	return "渲染 K 线快照图并作为图片提供（仅 vision 模型有意义）。args: symbol 必填，interval 可选"
}

func (t *ChartTool) Invoke(ctx context.Context, args map[string]string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(args["symbol"]))
	if symbol == "" {
		return "", fmt.Errorf("缺少 symbol 参数")
	}
	interval := strings.TrimSpace(args["interval"])
	if interval == "" {
		interval = t.Interval
	}
	candles, err := t.Feed.FetchCandles(ctx, symbol, interval, t.CandleLimit)
	if err != nil {
		return "", fmt.Errorf("拉取 %s %s K线失败: %w", symbol, interval, err)
	}
	if len(candles) == 0 {
		return "", fmt.Errorf("%s %s 无K线数据", symbol, interval)
	}

	html, err := t.buildKlineHTML(symbol, interval, candles)
	if err != nil {
		return "", err
	}
	png, err := renderHTMLToPNG(ctx, html, t.WidthPx, t.HeightPx)
	if err != nil {
		return "", fmt.Errorf("chart 截图失败: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (t *ChartTool) buildKlineHTML(symbol, interval string, candles []market.Candle) ([]byte, error) {
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s %s", symbol, interval)}),
		charts.WithInitializationOpts(opts.Initialization{
			Width:  fmt.Sprintf("%dpx", t.WidthPx),
			Height: fmt.Sprintf("%dpx", t.HeightPx),
		}),
		charts.WithXAxisOpts(opts.XAxis{SplitNumber: 20}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)

	x := make([]string, 0, len(candles))
	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		x = append(x, time.UnixMilli(c.OpenTime).UTC().Format("01-02 15:04"))
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(x).AddSeries("kline", data)

	var buf bytes.Buffer
	if err := kline.Render(&buf); err != nil {
		return nil, fmt.Errorf("chart 渲染失败: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测 headless chrome 是否可用，结果缓存。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		parent, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1200 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks); err != nil {
		return nil, err
	}
	return screenshot, nil
}
