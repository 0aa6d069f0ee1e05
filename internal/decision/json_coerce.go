package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CoerceDecisionArrayJSON 把模型输出的三种常见形态统一成决策数组：
// 顶层数组原样返回；{"decisions":[...]} 取内层数组；单个决策对象包成单元素数组。
func CoerceDecisionArrayJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("json 内容为空")
	}
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("json 格式无效")
	}
	parsed := gjson.Parse(raw)
	if parsed.IsArray() {
		return raw, nil
	}
	if !parsed.IsObject() {
		return "", fmt.Errorf("根节点必须是 JSON 数组或对象")
	}
	if decisions := parsed.Get("decisions"); decisions.Exists() {
		if !decisions.IsArray() {
			return "", fmt.Errorf("decisions 必须是数组")
		}
		return strings.TrimSpace(decisions.Raw), nil
	}

	if strings.TrimSpace(parsed.Get("action").String()) == "" {
		return "", fmt.Errorf("根节点为对象但未包含 decisions 数组或 action 字段")
	}
	return "[" + raw + "]", nil
}
