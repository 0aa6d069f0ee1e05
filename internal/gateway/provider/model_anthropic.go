package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicClient：Messages API（/v1/messages）。system 独立字段，图片走 base64 source。
type AnthropicClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func (c *AnthropicClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.anthropic.com"
	}
	return url + "/v1/messages"
}

func (c *AnthropicClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var content any = payload.User
	if len(payload.Images) > 0 {
		parts := make([]map[string]any, 0, len(payload.Images)+1)
		for _, img := range payload.Images {
			mediaType, data, ok := splitDataURI(img)
			if !ok {
				continue
			}
			parts = append(parts, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": mediaType,
					"data":       data,
				},
			})
		}
		parts = append(parts, map[string]any{"type": "text", "text": payload.User})
		content = parts
	}

	body := map[string]any{
		"model":      c.Model,
		"max_tokens": maxTokens,
		"messages":   []map[string]any{{"role": "user", "content": content}},
	}
	if payload.System != "" {
		body["system"] = payload.System
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	}
	var r struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty content blocks")
	}
	return sb.String(), nil
}

func splitDataURI(uri string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep == -1 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}

type AnthropicModelProvider struct {
	id     string
	vision bool
	client *AnthropicClient
}

func NewAnthropicModelProvider(id string, vision bool, client *AnthropicClient) *AnthropicModelProvider {
	return &AnthropicModelProvider{id: id, vision: vision, client: client}
}

func (p *AnthropicModelProvider) ID() string           { return p.id }
func (p *AnthropicModelProvider) SupportsVision() bool { return p.vision }

func (p *AnthropicModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	return p.client.Call(ctx, payload)
}
