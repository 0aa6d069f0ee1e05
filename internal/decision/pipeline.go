package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleet/internal/config"
	"fleet/internal/gateway/provider"
	"fleet/internal/logger"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Tool 迭代决策模式下模型可调用的只读分析工具。
type Tool interface {
	Name() string
	Describe() string
	Invoke(ctx context.Context, args map[string]string) (string, error)
}

// ToolSet 工具注册表的查询侧。
type ToolSet interface {
	Lookup(name string) (Tool, bool)
	List() []Tool
}

// Pipeline 决策管线：构建提示词 → 调模型 →（可选工具迭代）→ 解析决策数组。
// 任何失败都不会中断轮次：返回空决策集 + Notes。
type Pipeline struct {
	providers *provider.Registry
	builder   *PromptBuilder
	parser    *Parser
	tools     ToolSet
	cfg       config.AIConfig
}

func NewPipeline(providers *provider.Registry, builder *PromptBuilder, tools ToolSet, cfg config.AIConfig) *Pipeline {
	return &Pipeline{
		providers: providers,
		builder:   builder,
		parser:    NewParser(),
		tools:     tools,
		cfg:       cfg,
	}
}

// Run 执行一次决策。BotContext 是调度器构建的不可变快照。
func (p *Pipeline) Run(ctx context.Context, in BotContext) Result {
	res := Result{TraceID: uuid.NewString()}

	prov, ok := p.lookupProvider(in.ProviderID)
	if !ok {
		res.Notes = append(res.Notes, fmt.Sprintf("provider %q 未配置且无默认模型", in.ProviderID))
		return res
	}

	iterative := in.Iterative && p.tools != nil && len(p.tools.List()) > 0
	system := p.builder.System(in)
	if iterative {
		system += "\n" + p.renderToolContract()
	}
	res.BasePrompt = p.builder.Base(in)
	user := p.builder.Full(in, res.BasePrompt)

	maxIter := p.cfg.MaxIterations
	if !iterative || maxIter < 1 {
		maxIter = 1
	}
	var images []string
	for iter := 1; iter <= maxIter; iter++ {
		res.Iterations = iter
		if iter == maxIter && iterative {
			user += "\n## 最终轮\n本轮必须输出决策数组，不可再调用工具。\n"
		}

		raw, err := p.callModel(ctx, prov, in.BotID, system, user, images)
		if err != nil {
			res.Notes = append(res.Notes, fmt.Sprintf("provider 调用失败: %v", err))
			return res
		}
		res.RawOutput = raw

		if iterative && iter < maxIter {
			if name, args, ok := parseToolCall(raw); ok {
				section, image := p.invokeTool(ctx, name, args)
				user += section
				if image != "" {
					if prov.SupportsVision() {
						images = append(images, image)
					} else {
						user += "（当前模型不支持图片，已丢弃图表）\n"
					}
				}
				continue
			}
		}

		ds, _, perr := p.parser.Parse(raw)
		if perr != nil {
			res.Notes = append(res.Notes, fmt.Sprintf("决策解析失败: %v", perr))
			return res
		}
		res.Decisions = ds
		return res
	}
	// maxIter 轮内既没有产出决策也没有报错时不会走到这里
	res.Notes = append(res.Notes, "迭代轮次耗尽仍未产出决策")
	return res
}

func (p *Pipeline) lookupProvider(id string) (provider.ModelProvider, bool) {
	if id != "" {
		if prov, ok := p.providers.Get(id); ok {
			return prov, true
		}
		logger.Warnf("pipeline: provider %q 未配置，回退默认模型", id)
	}
	return p.providers.Default()
}

func (p *Pipeline) callModel(ctx context.Context, prov provider.ModelProvider, botID, system, user string, images []string) (string, error) {
	timeout := time.Duration(p.cfg.DecisionTimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.LogLLMRequest("decision", prov.ID(), botID, system, user, "")
	raw, err := prov.Call(callCtx, provider.ChatPayload{System: system, User: user, Images: images})
	if err != nil {
		return "", err
	}
	logger.LogLLMResponse("decision", prov.ID(), botID, raw)
	return raw, nil
}

func (p *Pipeline) renderToolContract() string {
	var sb strings.Builder
	sb.WriteString("## 可用工具\n")
	for _, t := range p.tools.List() {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Describe())
	}
	sb.WriteString("如需更多数据，先输出单个 JSON 对象 {\"tool\":\"名称\",\"args\":{...}}；")
	sb.WriteString("收到工具结果后再输出最终决策数组。\n")
	return sb.String()
}

// parseToolCall 识别 {"tool":"...","args":{...}} 形态的输出。
func parseToolCall(raw string) (string, map[string]string, bool) {
	parsed := gjson.Parse(strings.TrimSpace(stripFence(raw)))
	if !parsed.IsObject() {
		return "", nil, false
	}
	name := strings.TrimSpace(parsed.Get("tool").String())
	if name == "" {
		return "", nil, false
	}
	args := make(map[string]string)
	parsed.Get("args").ForEach(func(key, value gjson.Result) bool {
		args[key.String()] = value.String()
		return true
	})
	return name, args, true
}

func stripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	return strings.TrimSuffix(strings.TrimSpace(raw), "```")
}

// invokeTool 执行一次工具调用。data URI 形态的结果作为图片单独返回。
func (p *Pipeline) invokeTool(ctx context.Context, name string, args map[string]string) (string, string) {
	tool, ok := p.tools.Lookup(name)
	if !ok {
		logger.Warnf("pipeline: 模型请求了未注册的工具 %q", name)
		return fmt.Sprintf("\n## 工具结果 [%s]\n工具不存在，请直接输出决策数组。\n", name), ""
	}
	timeout := time.Duration(p.cfg.ToolTimeoutSeconds) * time.Second
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := tool.Invoke(toolCtx, args)
	if err != nil {
		logger.Warnf("pipeline: 工具 %s 调用失败: %v", name, err)
		return fmt.Sprintf("\n## 工具结果 [%s]\n调用失败: %v\n", name, err), ""
	}
	if strings.HasPrefix(out, "data:image/") {
		return fmt.Sprintf("\n## 工具结果 [%s]\n图表已作为图片附加。\n", name), out
	}
	return fmt.Sprintf("\n## 工具结果 [%s]\n%s\n", name, strings.TrimSpace(out)), ""
}
