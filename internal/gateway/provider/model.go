package provider

import "context"

// ChatPayload 一次模型调用的统一载荷，与具体厂商的请求形态无关。
type ChatPayload struct {
	System    string
	User      string
	Images    []string // data URI，仅 vision 模型使用
	MaxTokens int
}

// ModelProvider 统一的「发提示词、收文本」契约。
type ModelProvider interface {
	ID() string
	SupportsVision() bool

	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// Registry 按 ID 查找已配置的 provider。
type Registry struct {
	byID  map[string]ModelProvider
	order []string
}

func NewRegistry(providers []ModelProvider) *Registry {
	r := &Registry{byID: make(map[string]ModelProvider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.byID[p.ID()]; dup {
			continue
		}
		r.byID[p.ID()] = p
		r.order = append(r.order, p.ID())
	}
	return r
}

func (r *Registry) Get(id string) (ModelProvider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.byID[id]
	return p, ok
}

// Default 返回第一个配置的 provider（机器人未显式绑定时使用）。
func (r *Registry) Default() (ModelProvider, bool) {
	if r == nil || len(r.order) == 0 {
		return nil, false
	}
	return r.byID[r.order[0]], true
}

func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
