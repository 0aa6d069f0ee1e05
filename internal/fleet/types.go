package fleet

import (
	"strings"
	"time"
)

type Mode string

const (
	ModePaper Mode = "paper"
	ModeReal  Mode = "real"
)

func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeReal)) {
		return ModeReal
	}
	return ModePaper
}

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Direction long=+1，short=-1。
func (s Side) Direction() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position 仓位状态机只有 open → closed 一条迁移。
type Position struct {
	ID               string
	BotID            string
	Symbol           string
	Side             Side
	EntryPrice       float64
	Size             float64 // 保证金（USD）
	Leverage         int
	StopLoss         float64
	TakeProfit       float64
	LiquidationPrice float64
	Status           PositionStatus
	OpenedAt         time.Time
	ClosedAt         *time.Time
	UnrealizedPnL    float64
	RealizedPnL      float64
}

const (
	TradeActionOpen  = "open"
	TradeActionClose = "close"
)

// Trade 执行器每次动作追加一行，不可变。
type Trade struct {
	ID         string
	BotID      string
	PositionID string
	Action     string
	Side       Side
	Symbol     string
	Price      float64
	Size       float64
	Leverage   int
	Fee        float64
	PnL        float64
	Timestamp  time.Time
}

// DecisionLogEntry 一轮决策的持久化记录。BasePrompt 不含历史扩展。
type DecisionLogEntry struct {
	ID         int64
	BotID      string
	BasePrompt string
	RawOutput  string
	Decisions  string // 模型返回的决策数组 JSON
	Notes      []string
	Success    bool
	Timestamp  time.Time
}

// HistorySummary 每个机器人至多一条存活摘要，重摘要时整体替换。
type HistorySummary struct {
	BotID     string
	Narrative string
	Count     int
	From      time.Time
	To        time.Time
	TokenSize int
}

// ExchangeCredentials 实盘凭证。
type ExchangeCredentials struct {
	APIKey    string
	APISecret string
}

// Bot 一个自治交易机器人。归属唯一 owner；
// 只在调度器持有其回合时由执行器/决策管线修改。
type Bot struct {
	ID         string
	OwnerID    string
	Name       string
	Prompt     string // 人格/策略提示词
	ProviderID string
	Mode       Mode
	Paused     bool
	Iterative  bool
	Symbols    []string // 为空则退回全局列表
	Exchange   ExchangeCredentials

	Balance        float64
	InitialBalance float64
	Positions      []*Position // 仅开仓中
	RecentTrades   []Trade     // 有界缓存，最新在前
	Cooldowns      map[string]time.Time
	Summary        *HistorySummary

	TotalTrades    int
	WinningTrades  int
	WinRate        float64
	TotalDecisions int
	LastTurnAt     time.Time
}

// MarginInUse 所有开仓保证金之和。
func (b *Bot) MarginInUse() float64 {
	var total float64
	for _, p := range b.Positions {
		if p != nil && p.Status == PositionOpen {
			total += p.Size
		}
	}
	return total
}

// Equity 余额 + 占用保证金 + 未实现盈亏。
func (b *Bot) Equity() float64 {
	total := b.Balance + b.MarginInUse()
	for _, p := range b.Positions {
		if p != nil && p.Status == PositionOpen {
			total += p.UnrealizedPnL
		}
	}
	return total
}

// OpenPosition 返回某 symbol 的开仓中持仓。
func (b *Bot) OpenPosition(symbol string) *Position {
	for _, p := range b.Positions {
		if p != nil && p.Status == PositionOpen && p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// PositionByID 按 id 查找开仓中持仓。
func (b *Bot) PositionByID(id string) *Position {
	for _, p := range b.Positions {
		if p != nil && p.Status == PositionOpen && p.ID == id {
			return p
		}
	}
	return nil
}

// CooldownRemaining 某 symbol 的剩余冷却时长；不在冷却中返回 0。
func (b *Bot) CooldownRemaining(symbol string, now time.Time) time.Duration {
	until, ok := b.Cooldowns[symbol]
	if !ok || !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

// PruneCooldowns 移除已过期的冷却项。
func (b *Bot) PruneCooldowns(now time.Time) {
	for sym, until := range b.Cooldowns {
		if !now.Before(until) {
			delete(b.Cooldowns, sym)
		}
	}
}

// PermittedSymbols 机器人白名单，为空时退回全局列表。
func (b *Bot) PermittedSymbols(global []string) []string {
	if len(b.Symbols) > 0 {
		return b.Symbols
	}
	return global
}

// recordTrade 追加进有界缓存（最新在前）。
func (b *Bot) recordTrade(t Trade, limit int) {
	b.RecentTrades = append([]Trade{t}, b.RecentTrades...)
	if limit > 0 && len(b.RecentTrades) > limit {
		b.RecentTrades = b.RecentTrades[:limit]
	}
}

// refreshWinRate 重新计算胜率。
func (b *Bot) refreshWinRate() {
	if b.TotalTrades <= 0 {
		b.WinRate = 0
		return
	}
	b.WinRate = float64(b.WinningTrades) / float64(b.TotalTrades)
}
