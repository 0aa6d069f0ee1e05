package fleet

import (
	"fmt"
	"time"

	"fleet/internal/config"
	"fleet/internal/decision"
	"fleet/internal/gateway/exchange"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/pkg/trading"

	"github.com/google/uuid"
)

// Executor 把校验通过的决策作用到机器人的余额与持仓集上。
// 违反护栏的决策不会抛错：返回一条人类可读的拒绝注记，决策被丢弃。
type Executor struct {
	cfg config.TradingConfig
	now func() time.Time
}

func NewExecutor(cfg config.TradingConfig) *Executor {
	return &Executor{cfg: cfg, now: time.Now}
}

// Outcome 单个决策的执行结果。Note 非空即拒绝（或 hold 说明）。
type Outcome struct {
	Position *Position
	Trade    *Trade
	Note     string
}

func (o Outcome) Rejected() bool { return o.Note != "" && o.Trade == nil }

// Apply 按动作分发。未知动作按 hold 处理并附注记。
func (e *Executor) Apply(bot *Bot, d decision.Decision, price float64) Outcome {
	switch d.NormalizedAction() {
	case "open_long":
		return e.Open(bot, d, SideLong, price)
	case "open_short":
		return e.Open(bot, d, SideShort, price)
	case "close":
		return e.Close(bot, d.Symbol, price)
	case "hold", "":
		return Outcome{}
	default:
		return Outcome{Note: fmt.Sprintf("未知动作 %q，按 hold 处理", d.Action)}
	}
}

// Open 开仓：校验杠杆上限、最小保证金、可用保证金容量与冷却。
func (e *Executor) Open(bot *Bot, d decision.Decision, side Side, price float64) Outcome {
	symbol := d.Symbol
	if symbol == "" {
		return Outcome{Note: "开仓决策缺少 symbol，已拒绝"}
	}
	if price <= 0 {
		return Outcome{Note: fmt.Sprintf("%s 无可用行情价格，已拒绝开仓", symbol)}
	}
	now := e.now()
	if remaining := bot.CooldownRemaining(symbol, now); remaining > 0 {
		return Outcome{Note: fmt.Sprintf("%s 冷却中（剩余 %s），已拒绝开仓", symbol, remaining.Round(time.Second))}
	}
	if existing := bot.OpenPosition(symbol); existing != nil {
		return Outcome{Note: fmt.Sprintf("%s 已有开仓中持仓 %s，已拒绝重复开仓", symbol, existing.ID)}
	}
	leverage := d.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	if max := e.cfg.MaxLeverageFor(symbol); leverage > max {
		return Outcome{Note: fmt.Sprintf("%s 杠杆 %dx 超过上限 %dx，已拒绝开仓", symbol, leverage, max)}
	}
	size := d.PositionSizeUSD
	if size < e.cfg.MinPositionSize {
		return Outcome{Note: fmt.Sprintf("%s 保证金 %.2f 低于最小值 %.2f，已拒绝开仓", symbol, size, e.cfg.MinPositionSize)}
	}
	capacity := (bot.Balance + bot.MarginInUse()) * e.cfg.MaxMarginRatio
	if bot.MarginInUse()+size > capacity || size > bot.Balance {
		return Outcome{Note: fmt.Sprintf("%s 保证金 %.2f 超出可用容量（余额 %.2f，已占用 %.2f），已拒绝开仓",
			symbol, size, bot.Balance, bot.MarginInUse())}
	}

	pos := &Position{
		ID:               uuid.NewString(),
		BotID:            bot.ID,
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       price,
		Size:             size,
		Leverage:         leverage,
		StopLoss:         d.StopLoss,
		TakeProfit:       d.TakeProfit,
		LiquidationPrice: trading.LiquidationPrice(price, leverage, side.Direction()),
		Status:           PositionOpen,
		OpenedAt:         now,
	}
	trade := &Trade{
		ID:         uuid.NewString(),
		BotID:      bot.ID,
		PositionID: pos.ID,
		Action:     TradeActionOpen,
		Side:       side,
		Symbol:     symbol,
		Price:      price,
		Size:       size,
		Leverage:   leverage,
		Timestamp:  now,
	}

	bot.Balance -= size
	bot.Positions = append(bot.Positions, pos)
	bot.recordTrade(*trade, e.cfg.RecentTradesLimit)
	logger.Infof("executor: %s 开仓 %s %s 保证金=%.2f 杠杆=%dx @%.4f", bot.ID, side, symbol, size, leverage, price)
	return Outcome{Position: pos, Trade: trade}
}

// Close 平仓：费用按模式扣减，盈亏入账，启动冷却，更新胜率。
func (e *Executor) Close(bot *Bot, symbol string, price float64) Outcome {
	pos := bot.OpenPosition(symbol)
	if pos == nil {
		return Outcome{Note: fmt.Sprintf("%s 无开仓中持仓，平仓决策已忽略", symbol)}
	}
	if price <= 0 {
		return Outcome{Note: fmt.Sprintf("%s 无可用行情价格，平仓已跳过", symbol)}
	}
	return e.closePosition(bot, pos, price)
}

func (e *Executor) closePosition(bot *Bot, pos *Position, price float64) Outcome {
	now := e.now()
	fee := trading.Fee(pos.Size, e.cfg.FeeRateFor(string(bot.Mode)))
	raw := trading.PnL(pos.EntryPrice, price, pos.Size, pos.Leverage, pos.Side.Direction())
	realized := raw - fee
	if realized < -pos.Size {
		// 亏损以保证金为限
		realized = -pos.Size
	}

	pos.Status = PositionClosed
	pos.ClosedAt = &now
	pos.RealizedPnL = realized
	pos.UnrealizedPnL = 0

	trade := &Trade{
		ID:         uuid.NewString(),
		BotID:      bot.ID,
		PositionID: pos.ID,
		Action:     TradeActionClose,
		Side:       pos.Side,
		Symbol:     pos.Symbol,
		Price:      price,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		Fee:        fee,
		PnL:        realized,
		Timestamp:  now,
	}

	bot.Balance += pos.Size + realized
	bot.removeClosed(pos.ID)
	if bot.Cooldowns == nil {
		bot.Cooldowns = make(map[string]time.Time)
	}
	bot.Cooldowns[pos.Symbol] = now.Add(time.Duration(e.cfg.CooldownSeconds) * time.Second)
	bot.TotalTrades++
	if realized > 0 {
		bot.WinningTrades++
	}
	bot.refreshWinRate()
	bot.recordTrade(*trade, e.cfg.RecentTradesLimit)
	logger.Infof("executor: %s 平仓 %s %s pnl=%.2f fee=%.2f @%.4f", bot.ID, pos.Side, pos.Symbol, realized, fee, price)
	return Outcome{Position: pos, Trade: trade}
}

func (b *Bot) removeClosed(positionID string) {
	out := b.Positions[:0]
	for _, p := range b.Positions {
		if p != nil && p.ID != positionID && p.Status == PositionOpen {
			out = append(out, p)
		}
	}
	b.Positions = out
}

// MarkToMarket 刷新节拍：按最新快照重算未实现盈亏，不产生 Trade 记录。
// 亏损触及保证金的持仓会被强制平仓（爆仓），返回由此产生的平仓结果。
func (e *Executor) MarkToMarket(bot *Bot, snap *market.Snapshot) []Outcome {
	if bot.Mode == ModeReal {
		// 实盘的未实现盈亏以交易所对账为准
		return nil
	}
	var liquidated []Outcome
	for _, pos := range append([]*Position(nil), bot.Positions...) {
		if pos == nil || pos.Status != PositionOpen {
			continue
		}
		price, ok := snap.Price(pos.Symbol)
		if !ok {
			continue
		}
		pos.UnrealizedPnL = trading.PnL(pos.EntryPrice, price, pos.Size, pos.Leverage, pos.Side.Direction())
		if pos.UnrealizedPnL <= -pos.Size {
			logger.Warnf("executor: %s 持仓 %s %s 触及爆仓价，强制平仓", bot.ID, pos.Symbol, pos.ID)
			if out := e.closePosition(bot, pos, price); out.Trade != nil {
				liquidated = append(liquidated, out)
			}
		}
	}
	return liquidated
}

// ReconcileReal 实盘对账：余额与持仓以交易所账户为准，本地不做推算。
func (e *Executor) ReconcileReal(bot *Bot, acct exchange.AccountState, remote []exchange.RemotePosition) {
	bot.Balance = acct.Available
	bySymbol := make(map[string]exchange.RemotePosition, len(remote))
	for _, r := range remote {
		bySymbol[r.Symbol] = r
	}
	for _, pos := range bot.Positions {
		if pos == nil || pos.Status != PositionOpen {
			continue
		}
		if r, ok := bySymbol[pos.Symbol]; ok {
			pos.UnrealizedPnL = r.UnrealizedPnL
			if r.LiquidationPrice > 0 {
				pos.LiquidationPrice = r.LiquidationPrice
			}
		}
	}
}
