package decision

import (
	"fmt"
	"strings"
	"time"
)

// 中文说明：
// 提示词分两层：BasePrompt（账户/持仓/行情/冷却/输出约束，随决策日志落库）
// 与 FullPrompt（Base + 历史叙事 + 近期决策回放，只在发送时拼接，绝不落库）。

const defaultSystemPrompt = "你是专业的加密货币交易AI。请根据市场数据与风险控制做出决策。\n"

// PromptBuilder 从机器人上下文快照渲染提示词。
type PromptBuilder struct {
	MaxLeverageMajor int
	MaxLeverageAlt   int
	MinPositionSize  float64
}

func NewPromptBuilder(levMajor, levAlt int, minSize float64) *PromptBuilder {
	return &PromptBuilder{
		MaxLeverageMajor: levMajor,
		MaxLeverageAlt:   levAlt,
		MinPositionSize:  minSize,
	}
}

// System 系统提示词：人格在前，输出契约在后。
func (b *PromptBuilder) System(in BotContext) string {
	persona := strings.TrimSpace(in.Personality)
	if persona == "" {
		persona = strings.TrimSpace(defaultSystemPrompt)
	}
	return persona + "\n\n" + b.renderOutputContract(in)
}

// Base 基础用户提示词（持久化层）。
func (b *PromptBuilder) Base(in BotContext) string {
	var sb strings.Builder
	sb.WriteString("# 决策输入\n")
	sb.WriteString(b.renderAccount(in))
	sb.WriteString(b.renderPositions(in.Positions))
	sb.WriteString(b.renderCooldowns(in.Cooldowns))
	sb.WriteString(b.renderMarket(in.Tickers))
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// Full 发送层提示词：Base + 历史扩展。
func (b *PromptBuilder) Full(in BotContext, base string) string {
	history := b.renderHistory(in)
	if history == "" {
		return base
	}
	return base + "\n" + history
}

func (b *PromptBuilder) renderAccount(in BotContext) string {
	var sb strings.Builder
	sb.WriteString("\n## 账户概况\n")
	fmt.Fprintf(&sb, "- 可用余额: %.2f USDT\n", in.Balance)
	fmt.Fprintf(&sb, "- 账户净值: %.2f USDT\n", in.Equity)
	fmt.Fprintf(&sb, "- 占用保证金: %.2f USDT\n", in.MarginInUse)
	if in.TotalTrades > 0 {
		fmt.Fprintf(&sb, "- 历史成交: %d 笔，胜率 %.0f%%\n", in.TotalTrades, in.WinRate*100)
	}
	return sb.String()
}

func (b *PromptBuilder) renderPositions(positions []PositionView) string {
	if len(positions) == 0 {
		return "\n## 当前持仓\n- 无\n"
	}
	var sb strings.Builder
	sb.WriteString("\n## 当前持仓\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "- %s %s 入场=%.4f 保证金=%.2f 杠杆=%dx 未实现盈亏=%.2f 开仓于 %s\n",
			p.Symbol, strings.ToUpper(p.Side), p.EntryPrice, p.Size, p.Leverage,
			p.UnrealizedPnL, p.OpenedAt.Format("2006-01-02 15:04"))
	}
	return sb.String()
}

func (b *PromptBuilder) renderCooldowns(cooldowns []CooldownView) string {
	if len(cooldowns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## 冷却中（开仓将被拒绝）\n")
	for _, c := range cooldowns {
		fmt.Fprintf(&sb, "- %s 剩余 %s\n", c.Symbol, c.Remaining.Round(time.Second))
	}
	return sb.String()
}

func (b *PromptBuilder) renderMarket(tickers []TickerView) string {
	if len(tickers) == 0 {
		return "\n## 市场行情\n- 暂无行情快照\n"
	}
	var sb strings.Builder
	sb.WriteString("\n## 市场行情\n")
	for _, t := range tickers {
		fmt.Fprintf(&sb, "- %s: %.4f (24h %+.2f%%)\n", t.Symbol, t.Price, t.Change24h)
	}
	return sb.String()
}

func (b *PromptBuilder) renderHistory(in BotContext) string {
	narrative := strings.TrimSpace(in.HistoryNarrative)
	if narrative == "" && len(in.RecentEntries) == 0 {
		return ""
	}
	var sb strings.Builder
	if narrative != "" {
		sb.WriteString("## 交易历史回顾（第一人称）\n")
		sb.WriteString(narrative)
		sb.WriteString("\n")
	}
	if len(in.RecentEntries) > 0 {
		sb.WriteString("\n## 近期决策回放（新在前）\n")
		for _, e := range in.RecentEntries {
			status := "成功"
			if !e.Success {
				status = "失败"
			}
			fmt.Fprintf(&sb, "- [%s][%s] %s", e.Timestamp.Format("01-02 15:04"), status, strings.TrimSpace(e.Decisions))
			if notes := strings.TrimSpace(e.Notes); notes != "" {
				fmt.Fprintf(&sb, "（注记: %s）", notes)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (b *PromptBuilder) renderOutputContract(in BotContext) string {
	var sb strings.Builder
	sb.WriteString("## 输出约束\n")
	fmt.Fprintf(&sb, "- 可交易币种: %s\n", strings.Join(in.Symbols, ", "))
	fmt.Fprintf(&sb, "- 杠杆上限: BTC/ETH %dx，其余 %dx\n", b.MaxLeverageMajor, b.MaxLeverageAlt)
	fmt.Fprintf(&sb, "- 单笔保证金下限: %.0f USDT\n", b.MinPositionSize)
	sb.WriteString("- 只输出一个 JSON 数组，每个元素形如:\n")
	sb.WriteString("  {\"symbol\":\"BTCUSDT\",\"action\":\"open_long|open_short|close|hold\"," +
		"\"leverage\":10,\"position_size_usd\":2000,\"stop_loss\":0,\"take_profit\":0," +
		"\"confidence\":80,\"reasoning\":\"...\"}\n")
	sb.WriteString("- 不要输出数组之外的任何文字。无操作时输出 [{\"action\":\"hold\"}]。\n")
	return sb.String()
}
