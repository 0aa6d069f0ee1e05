// Package store 的对账器：把 profile 声明与持久化状态合并成运行时机器人集。
// 纯函数，重复执行结果一致。
package store

import (
	"time"

	"fleet/internal/config/loader"
	"fleet/internal/fleet"
	"fleet/internal/logger"
	"fleet/internal/store/gormstore"
)

// ReconcileFleet 以 profile 为机器人集合的唯一来源：
// 有持久化状态的机器人恢复余额/持仓/冷却/摘要，没有的按初始余额新建。
// 库里存在但 profile 已删除的机器人不加载，ID 以 orphans 返回。
func ReconcileFleet(
	profiles []loader.OwnerProfile,
	persisted map[string]*gormstore.PersistedBot,
	initialBalance float64,
	now time.Time,
) (bots []*fleet.Bot, orphans []string) {
	seen := make(map[string]bool)
	for _, owner := range profiles {
		for _, p := range owner.Bots {
			seen[p.ID] = true
			bots = append(bots, buildBot(owner.Owner, p, persisted[p.ID], initialBalance, now))
		}
	}
	for id := range persisted {
		if !seen[id] {
			orphans = append(orphans, id)
		}
	}
	return bots, orphans
}

func buildBot(ownerID string, p loader.BotProfile, saved *gormstore.PersistedBot, initialBalance float64, now time.Time) *fleet.Bot {
	bot := &fleet.Bot{
		ID:         p.ID,
		OwnerID:    ownerID,
		Name:       p.Name,
		Prompt:     p.Prompt,
		ProviderID: p.Provider,
		Mode:       fleet.ParseMode(p.Mode),
		Paused:     p.Paused,
		Iterative:  p.Iterative,
		Symbols:    append([]string(nil), p.Symbols...),
		Exchange: fleet.ExchangeCredentials{
			APIKey:    p.Exchange.APIKey,
			APISecret: p.Exchange.APISecret,
		},
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Cooldowns:      make(map[string]time.Time),
	}
	if saved == nil {
		return bot
	}

	if saved.Mode != "" && fleet.ParseMode(saved.Mode) != bot.Mode {
		logger.Warnf("reconcile: %s 交易模式由 %s 变更为 %s，沿用已持久化的资金状态", p.ID, saved.Mode, bot.Mode)
	}
	bot.Balance = saved.Balance
	if saved.InitialBalance > 0 {
		bot.InitialBalance = saved.InitialBalance
	}
	bot.TotalTrades = saved.TotalTrades
	bot.WinningTrades = saved.WinningTrades
	bot.TotalDecisions = saved.TotalDecisions
	bot.LastTurnAt = saved.LastTurnAt
	if bot.TotalTrades > 0 {
		bot.WinRate = float64(bot.WinningTrades) / float64(bot.TotalTrades)
	}
	for sym, until := range saved.Cooldowns {
		if now.Before(until) {
			bot.Cooldowns[sym] = until
		}
	}
	for _, pos := range saved.OpenPositions {
		if pos != nil && pos.Status == fleet.PositionOpen {
			bot.Positions = append(bot.Positions, pos)
		}
	}
	bot.Summary = saved.Summary
	return bot
}
