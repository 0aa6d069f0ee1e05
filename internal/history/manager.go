// Package history 管理机器人的决策历史：近期条目原文回放 + 超预算时的 LLM 压缩叙事。
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleet/internal/config"
	"fleet/internal/decision"
	"fleet/internal/fleet"
	"fleet/internal/gateway/provider"
	"fleet/internal/logger"
	"fleet/internal/pkg/tokens"
)

// EntrySource 历史条目的读取侧（由持久层实现）。
type EntrySource interface {
	// DecisionsSince 返回某机器人在 since 之后的决策日志，按时间升序。
	DecisionsSince(ctx context.Context, botID string, since time.Time) ([]fleet.DecisionLogEntry, error)
}

// SummarySink 摘要的写入侧：每个机器人至多一条，整体替换。
type SummarySink interface {
	ReplaceSummary(ctx context.Context, summary fleet.HistorySummary) error
}

// Manager 维护单个机器人的历史上下文，并在 token 成本超预算时触发重摘要。
type Manager struct {
	source    EntrySource
	sink      SummarySink
	providers *provider.Registry
	cfg       config.HistoryConfig
	timeout   time.Duration
}

func NewManager(source EntrySource, sink SummarySink, providers *provider.Registry, cfg config.HistoryConfig, summaryTimeout time.Duration) *Manager {
	return &Manager{
		source:    source,
		sink:      sink,
		providers: providers,
		cfg:       cfg,
		timeout:   summaryTimeout,
	}
}

// PromptContext 组装提示词所需的历史字段：现存叙事 + 最新 N 条原文（新在前）。
func (m *Manager) PromptContext(ctx context.Context, bot *fleet.Bot) (string, []decision.HistoryEntryView, error) {
	entries, err := m.pendingEntries(ctx, bot)
	if err != nil {
		return "", nil, err
	}
	limit := m.cfg.PromptEntries
	if limit <= 0 {
		limit = 5
	}
	views := make([]decision.HistoryEntryView, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(views) < limit; i-- {
		e := entries[i]
		views = append(views, decision.HistoryEntryView{
			Timestamp: e.Timestamp,
			Decisions: e.Decisions,
			Notes:     strings.Join(e.Notes, "；"),
			Success:   e.Success,
		})
	}
	var narrative string
	if bot.Summary != nil {
		narrative = bot.Summary.Narrative
	}
	return narrative, views, nil
}

// MaybeSummarize 评估是否需要重摘要；触发时用 LLM 生成新叙事并整体替换。
// 两个条件须同时满足：token 成本 ≥ 预算，且可压缩的新条目数 ≥ 最小批量。
func (m *Manager) MaybeSummarize(ctx context.Context, bot *fleet.Bot) (bool, error) {
	entries, err := m.pendingEntries(ctx, bot)
	if err != nil {
		return false, err
	}
	keep := m.cfg.KeepRecent
	if keep < 0 {
		keep = 0
	}
	if len(entries) <= keep {
		return false, nil
	}
	compressible := entries[:len(entries)-keep]
	if len(compressible) < m.cfg.MinBatch {
		return false, nil
	}

	cost := m.tokenCost(bot, entries)
	if cost < m.cfg.TokenBudget {
		return false, nil
	}

	logger.Infof("history: %s 历史成本 %d tokens 超预算 %d，压缩 %d 条决策",
		bot.ID, cost, m.cfg.TokenBudget, len(compressible))

	narrative, err := m.summarize(ctx, bot, compressible)
	if err != nil {
		return false, fmt.Errorf("历史摘要生成失败: %w", err)
	}

	prevCount := 0
	if bot.Summary != nil {
		prevCount = bot.Summary.Count
	}
	from := compressible[0].Timestamp
	if bot.Summary != nil && !bot.Summary.From.IsZero() {
		from = bot.Summary.From
	}
	summary := fleet.HistorySummary{
		BotID:     bot.ID,
		Narrative: narrative,
		Count:     prevCount + len(compressible),
		From:      from,
		To:        compressible[len(compressible)-1].Timestamp,
		TokenSize: tokens.Estimate(narrative),
	}
	if m.sink != nil {
		if err := m.sink.ReplaceSummary(ctx, summary); err != nil {
			return false, fmt.Errorf("历史摘要落库失败: %w", err)
		}
	}
	bot.Summary = &summary
	return true, nil
}

// pendingEntries 返回尚未被摘要覆盖的决策日志（升序）。
func (m *Manager) pendingEntries(ctx context.Context, bot *fleet.Bot) ([]fleet.DecisionLogEntry, error) {
	var since time.Time
	if bot.Summary != nil {
		since = bot.Summary.To
	}
	return m.source.DecisionsSince(ctx, bot.ID, since)
}

// tokenCost 现存叙事 + 全部未摘要条目（提示词、决策、注记）的 token 估算。
func (m *Manager) tokenCost(bot *fleet.Bot, entries []fleet.DecisionLogEntry) int {
	cost := 0
	if bot.Summary != nil {
		cost += tokens.Estimate(bot.Summary.Narrative)
	}
	for _, e := range entries {
		cost += tokens.Estimate(e.BasePrompt)
		cost += tokens.Estimate(e.Decisions)
		cost += tokens.EstimateAll(e.Notes...)
	}
	return cost
}

func (m *Manager) summarize(ctx context.Context, bot *fleet.Bot, compressible []fleet.DecisionLogEntry) (string, error) {
	prov, ok := m.lookupProvider(bot.ProviderID)
	if !ok {
		return "", fmt.Errorf("无可用模型 provider")
	}

	system := "你是交易机器人的记忆整理助手。把决策记录压缩成一段第一人称的交易历史叙事，" +
		"突出策略倾向、盈亏教训与未平仓的关注点。叙事必须自洽完整，不依赖任何外部上下文。"
	user := m.renderSummaryInput(bot, compressible)

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	logger.LogLLMRequest("summary", prov.ID(), bot.ID, system, user, "")
	raw, err := prov.Call(callCtx, provider.ChatPayload{System: system, User: user})
	if err != nil {
		return "", err
	}
	logger.LogLLMResponse("summary", prov.ID(), bot.ID, raw)

	narrative := strings.TrimSpace(raw)
	if narrative == "" {
		return "", fmt.Errorf("模型返回空叙事")
	}
	if m.cfg.NarrativeMax > 0 && len([]rune(narrative)) > m.cfg.NarrativeMax {
		narrative = string([]rune(narrative)[:m.cfg.NarrativeMax])
	}
	return narrative, nil
}

// renderSummaryInput 旧叙事只作为上文参考，压缩对象是未摘要的旧条目。
func (m *Manager) renderSummaryInput(bot *fleet.Bot, compressible []fleet.DecisionLogEntry) string {
	var sb strings.Builder
	if bot.Summary != nil && strings.TrimSpace(bot.Summary.Narrative) != "" {
		sb.WriteString("## 既有叙事（仅作上文，需融入新叙事）\n")
		sb.WriteString(bot.Summary.Narrative)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "## 待压缩的决策记录（%d 条，旧在前）\n", len(compressible))
	for _, e := range compressible {
		status := "成功"
		if !e.Success {
			status = "失败"
		}
		fmt.Fprintf(&sb, "- [%s][%s] %s", e.Timestamp.Format("2006-01-02 15:04"), status, strings.TrimSpace(e.Decisions))
		if notes := strings.Join(e.Notes, "；"); notes != "" {
			fmt.Fprintf(&sb, "（注记: %s）", notes)
		}
		sb.WriteString("\n")
		if prompt := truncateRunes(strings.TrimSpace(e.BasePrompt), summaryPromptMax); prompt != "" {
			fmt.Fprintf(&sb, "  当轮输入摘录: %s\n", prompt)
		}
	}
	sb.WriteString("\n请输出融合后的完整第一人称叙事，不要输出其它内容。\n")
	return sb.String()
}

// summaryPromptMax 限制每条记录带进摘要输入的提示词长度，防止输入本身爆预算。
const summaryPromptMax = 240

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func (m *Manager) lookupProvider(id string) (provider.ModelProvider, bool) {
	if id != "" {
		if prov, ok := m.providers.Get(id); ok {
			return prov, true
		}
	}
	return m.providers.Default()
}
