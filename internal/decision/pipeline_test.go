package decision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fleet/internal/config"
	"fleet/internal/gateway/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	id      string
	outputs []string
	err     error
	calls   int
	prompts []string
}

func (s *scriptedProvider) ID() string           { return s.id }
func (s *scriptedProvider) SupportsVision() bool { return false }

func (s *scriptedProvider) Call(_ context.Context, payload provider.ChatPayload) (string, error) {
	s.prompts = append(s.prompts, payload.User)
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls
	if idx >= len(s.outputs) {
		idx = len(s.outputs) - 1
	}
	s.calls++
	return s.outputs[idx], nil
}

type fakeTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (f *fakeTool) Name() string     { return f.name }
func (f *fakeTool) Describe() string { return "测试工具" }

func (f *fakeTool) Invoke(_ context.Context, _ map[string]string) (string, error) {
	f.calls++
	return f.result, f.err
}

type fakeToolSet struct{ tools []*fakeTool }

func (f *fakeToolSet) Lookup(name string) (Tool, bool) {
	for _, t := range f.tools {
		if t.name == name {
			return t, true
		}
	}
	return nil, false
}

func (f *fakeToolSet) List() []Tool {
	out := make([]Tool, len(f.tools))
	for i, t := range f.tools {
		out[i] = t
	}
	return out
}

func testAICfg() config.AIConfig {
	return config.AIConfig{DecisionTimeoutSeconds: 45, ToolTimeoutSeconds: 8, MaxIterations: 3}
}

func newTestPipeline(prov *scriptedProvider, tools ToolSet) *Pipeline {
	reg := provider.NewRegistry([]provider.ModelProvider{prov})
	builder := NewPromptBuilder(50, 20, 100)
	return NewPipeline(reg, builder, tools, testAICfg())
}

func baseContext() BotContext {
	return BotContext{
		BotID:      "bot-1",
		ProviderID: "m1",
		Balance:    10000,
		Equity:     10000,
		Symbols:    []string{"BTCUSDT", "ETHUSDT"},
		Tickers:    []TickerView{{Symbol: "BTCUSDT", Price: 69500, Change24h: 1.2}},
	}
}

func TestPipelineProducesDecisions(t *testing.T) {
	prov := &scriptedProvider{id: "m1", outputs: []string{`[{"symbol":"BTCUSDT","action":"open_long","leverage":10,"position_size_usd":2000}]`}}
	p := newTestPipeline(prov, nil)

	res := p.Run(context.Background(), baseContext())
	require.True(t, res.Success(), "notes=%v", res.Notes)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, 1, res.Iterations)
	assert.NotEmpty(t, res.TraceID)
	assert.NotEmpty(t, res.BasePrompt)
	assert.NotContains(t, res.BasePrompt, "交易历史回顾")
}

func TestPipelineProviderFailureYieldsNote(t *testing.T) {
	prov := &scriptedProvider{id: "m1", err: errors.New("連接超时")}
	p := newTestPipeline(prov, nil)

	res := p.Run(context.Background(), baseContext())
	assert.False(t, res.Success())
	assert.Empty(t, res.Decisions)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "provider 调用失败")
}

func TestPipelineParseFailureYieldsNote(t *testing.T) {
	prov := &scriptedProvider{id: "m1", outputs: []string{"抱歉，我无法给出建议。"}}
	p := newTestPipeline(prov, nil)

	res := p.Run(context.Background(), baseContext())
	assert.False(t, res.Success())
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "决策解析失败")
	assert.Equal(t, "抱歉，我无法给出建议。", res.RawOutput)
}

func TestPipelineUnknownProviderFallsBackToDefault(t *testing.T) {
	prov := &scriptedProvider{id: "m1", outputs: []string{`[{"action":"hold"}]`}}
	p := newTestPipeline(prov, nil)

	in := baseContext()
	in.ProviderID = "not-configured"
	res := p.Run(context.Background(), in)
	assert.True(t, res.Success(), "notes=%v", res.Notes)
}

func TestPipelineIterativeToolLoop(t *testing.T) {
	prov := &scriptedProvider{id: "m1", outputs: []string{
		`{"tool":"rsi","args":{"symbol":"BTCUSDT"}}`,
		`[{"symbol":"BTCUSDT","action":"open_long","leverage":5,"position_size_usd":500}]`,
	}}
	tool := &fakeTool{name: "rsi", result: "RSI(14)=28.5 超卖"}
	p := newTestPipeline(prov, &fakeToolSet{tools: []*fakeTool{tool}})

	in := baseContext()
	in.Iterative = true
	res := p.Run(context.Background(), in)
	require.True(t, res.Success(), "notes=%v", res.Notes)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, tool.calls)
	// 第二轮提示词携带工具结果
	require.Len(t, prov.prompts, 2)
	assert.Contains(t, prov.prompts[1], "RSI(14)=28.5")
}

func TestPipelineFinalIterationForcesDecision(t *testing.T) {
	toolCall := `{"tool":"rsi","args":{"symbol":"BTCUSDT"}}`
	prov := &scriptedProvider{id: "m1", outputs: []string{toolCall, toolCall, toolCall}}
	tool := &fakeTool{name: "rsi", result: "RSI(14)=50"}
	p := newTestPipeline(prov, &fakeToolSet{tools: []*fakeTool{tool}})

	in := baseContext()
	in.Iterative = true
	res := p.Run(context.Background(), in)
	// 最终轮仍输出工具调用：单对象无 action，解析失败记注记
	assert.False(t, res.Success())
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 2, tool.calls)
	require.Len(t, prov.prompts, 3)
	assert.Contains(t, prov.prompts[2], "最终轮")
}

func TestPipelineUnknownToolFeedsErrorBack(t *testing.T) {
	prov := &scriptedProvider{id: "m1", outputs: []string{
		`{"tool":"ghost","args":{}}`,
		`[{"action":"hold"}]`,
	}}
	p := newTestPipeline(prov, &fakeToolSet{tools: []*fakeTool{{name: "rsi", result: "ok"}}})

	in := baseContext()
	in.Iterative = true
	res := p.Run(context.Background(), in)
	require.True(t, res.Success(), "notes=%v", res.Notes)
	require.Len(t, prov.prompts, 2)
	assert.Contains(t, prov.prompts[1], "工具不存在")
}

func TestPromptBuilderHistoryOnlyInFullPrompt(t *testing.T) {
	b := NewPromptBuilder(50, 20, 100)
	in := baseContext()
	in.HistoryNarrative = "我上周在 BTC 上连续止损两次，策略偏激进。"

	base := b.Base(in)
	full := b.Full(in, base)
	assert.NotContains(t, base, "连续止损")
	assert.Contains(t, full, "连续止损")
	assert.True(t, strings.HasPrefix(full, base), "full 应以 base 为前缀")
}

func TestPromptBuilderRendersCooldowns(t *testing.T) {
	b := NewPromptBuilder(50, 20, 100)
	in := baseContext()
	in.Cooldowns = []CooldownView{{Symbol: "ETHUSDT", Remaining: 5 * time.Minute}}

	base := b.Base(in)
	assert.Contains(t, base, "冷却中")
	assert.Contains(t, base, "ETHUSDT")
	assert.Contains(t, base, "5m0s")
}
