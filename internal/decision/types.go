package decision

import (
	"strings"
	"time"
)

// 中文说明：
// 本文件定义决策管线的通用数据结构：模型输出的决策动作、
// 管线的输入上下文快照、以及带错误注记的执行结果。

// Decision 单笔模型决策动作。
type Decision struct {
	Symbol          string  `json:"symbol"`
	Action          string  `json:"action"` // open_long / open_short / close / hold
	Leverage        int     `json:"leverage,omitempty"`
	PositionSizeUSD float64 `json:"position_size_usd,omitempty"`
	StopLoss        float64 `json:"stop_loss,omitempty"`
	TakeProfit      float64 `json:"take_profit,omitempty"`
	Confidence      int     `json:"confidence,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// NormalizedAction 返回小写去空格后的动作名。
func (d Decision) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(d.Action))
}

// IsOpen 是否开仓动作。
func (d Decision) IsOpen() bool {
	a := d.NormalizedAction()
	return a == "open_long" || a == "open_short"
}

// Result 一次决策管线调用的输出。解析/调用失败不会抛错，
// 而是以空决策集 + Notes 的形式返回，轮次照常完成。
type Result struct {
	Decisions  []Decision
	BasePrompt string // 持久化的提示词（不含历史扩展）
	RawOutput  string // 模型原始输出
	Notes      []string
	TraceID    string
	Iterations int
}

// Success 管线是否产出了可用的决策集（空集 + 无错误注记也算成功的 HOLD）。
func (r Result) Success() bool {
	return len(r.Notes) == 0
}

// --------- 管线输入快照（由调度器从机器人状态构建） ---------

// PositionView 开仓中持仓的提示词视图。
type PositionView struct {
	Symbol        string
	Side          string
	EntryPrice    float64
	Size          float64
	Leverage      int
	UnrealizedPnL float64
	OpenedAt      time.Time
}

// CooldownView 冷却中的币种与剩余时长。
type CooldownView struct {
	Symbol    string
	Remaining time.Duration
}

// TickerView 过滤后的行情行。
type TickerView struct {
	Symbol    string
	Price     float64
	Change24h float64
}

// BotContext 决策管线的完整输入。
type BotContext struct {
	BotID       string
	BotName     string
	Personality string
	ProviderID  string
	Iterative   bool

	Balance     float64
	Equity      float64
	MarginInUse float64
	TotalTrades int
	WinRate     float64

	Symbols   []string
	Tickers   []TickerView
	Positions []PositionView
	Cooldowns []CooldownView

	// 历史上下文：只在发送时拼接，绝不落库。
	HistoryNarrative string
	RecentEntries    []HistoryEntryView
}

// HistoryEntryView 供提示词回放的近期决策日志条目。
type HistoryEntryView struct {
	Timestamp time.Time
	Decisions string
	Notes     string
	Success   bool
}
