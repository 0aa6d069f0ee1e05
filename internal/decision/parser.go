package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"fleet/internal/pkg/jsonutil"
)

// Parser 把模型自由文本解析成决策数组。
// 流程：提取 JSON → 形态归一 → 字符串数字规整 → schema 校验 → 严格反序列化。
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Parse(raw string) ([]Decision, string, error) {
	block, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return nil, "", fmt.Errorf("未找到 JSON 决策数组")
	}

	arr, err := CoerceDecisionArrayJSON(block)
	if err != nil {
		return nil, strings.TrimSpace(block), err
	}

	arr, err = SanitizeDecisionArray(arr)
	if err != nil {
		return nil, arr, err
	}

	if verr := ValidateDecisionArray(arr); verr != nil {
		return nil, arr, verr
	}

	var ds []Decision
	dec := json.NewDecoder(strings.NewReader(arr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return nil, arr, err
	}
	return ds, arr, nil
}
