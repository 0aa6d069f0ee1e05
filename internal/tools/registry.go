// Package tools 提供迭代决策模式下模型可调用的只读分析工具。
package tools

import (
	"fleet/internal/decision"
	"fleet/internal/logger"
)

// Registry 按名称注册工具，保持注册顺序（提示词里按序列出）。
type Registry struct {
	byName map[string]decision.Tool
	order  []decision.Tool
}

func NewRegistry(tools ...decision.Tool) *Registry {
	r := &Registry{byName: make(map[string]decision.Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t decision.Tool) {
	if t == nil {
		return
	}
	if _, dup := r.byName[t.Name()]; dup {
		logger.Warnf("tools: 工具 %q 重复注册，已忽略", t.Name())
		return
	}
	r.byName[t.Name()] = t
	r.order = append(r.order, t)
}

func (r *Registry) Lookup(name string) (decision.Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.byName[name]
	return t, ok
}

func (r *Registry) List() []decision.Tool {
	if r == nil {
		return nil
	}
	out := make([]decision.Tool, len(r.order))
	copy(out, r.order)
	return out
}
