package decision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 决策数组的结构约束。action 不做枚举限制：
// 未知动作由执行器按 hold 处理并留注记，比在解析期整批丢弃更稳。
const decisionArraySchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["action"],
		"properties": {
			"symbol":            {"type": "string"},
			"action":            {"type": "string", "minLength": 1},
			"leverage":          {"type": "integer", "minimum": 1},
			"position_size_usd": {"type": "number", "minimum": 0},
			"stop_loss":         {"type": "number", "minimum": 0},
			"take_profit":       {"type": "number", "minimum": 0},
			"confidence":        {"type": "integer", "minimum": 0, "maximum": 100},
			"reasoning":         {"type": "string"}
		},
		"additionalProperties": false
	}
}`

var decisionSchema = jsonschema.MustCompileString("decisions.json", decisionArraySchema)

// SanitizeDecisionArray 把字符串形式的数字转回数值（LLM 偶发返回 "10" 而非 10），
// 并返回规整后的数组 JSON。
func SanitizeDecisionArray(raw string) (string, error) {
	var arr []map[string]any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return "", fmt.Errorf("决策数组解析失败: %w", err)
	}
	numericFields := []string{"leverage", "position_size_usd", "stop_loss", "take_profit", "confidence"}
	for _, node := range arr {
		for _, field := range numericFields {
			s, ok := node[field].(string)
			if !ok {
				continue
			}
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				node[field] = n
			}
		}
	}
	out, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ValidateDecisionArray 对规整后的数组做 schema 校验。
func ValidateDecisionArray(raw string) error {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("json 格式无效: %w", err)
	}
	if err := decisionSchema.Validate(v); err != nil {
		return fmt.Errorf("决策数组 schema 校验失败: %w", err)
	}
	return nil
}
