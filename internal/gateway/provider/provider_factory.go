package provider

import (
	"fmt"
	"strings"
	"time"

	"fleet/internal/logger"
)

type ModelCfg struct {
	ID, Provider, APIURL, APIKey, Model string
	Enabled                             bool
	Headers                             map[string]string
	SupportsVision                      bool
}

// BuildProvidersFromConfig 按 provider 家族实例化客户端。
// openai / deepseek / qwen / custom 走 OpenAI 兼容协议，anthropic 与 gemini 各走自家协议。
func BuildProvidersFromConfig(models []ModelCfg, timeout time.Duration) []ModelProvider {
	out := make([]ModelProvider, 0, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			base := strings.TrimSpace(m.Provider)
			if base == "" {
				base = "provider"
			}
			if model := strings.TrimSpace(m.Model); model != "" {
				id = fmt.Sprintf("%s:%s", base, model)
			} else {
				id = base
			}
			logger.Warnf("未配置 ai.models.id，已为 %q 生成 ID: %s", m.Provider, id)
		}
		switch strings.ToLower(strings.TrimSpace(m.Provider)) {
		case "anthropic":
			client := &AnthropicClient{BaseURL: m.APIURL, APIKey: m.APIKey, Model: m.Model, Timeout: timeout}
			out = append(out, NewAnthropicModelProvider(id, m.SupportsVision, client))
		case "gemini", "google":
			client := &GeminiClient{BaseURL: m.APIURL, APIKey: m.APIKey, Model: m.Model, Timeout: timeout}
			out = append(out, NewGeminiModelProvider(id, m.SupportsVision, client))
		default:
			client := &OpenAIChatClient{
				BaseURL:      m.APIURL,
				APIKey:       m.APIKey,
				Model:        m.Model,
				Timeout:      timeout,
				ExtraHeaders: m.Headers,
			}
			out = append(out, NewOpenAIModelProvider(id, m.SupportsVision, client))
		}
	}
	return out
}
