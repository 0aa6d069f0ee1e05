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

// GeminiClient：generateContent 接口。system 走 systemInstruction，key 挂在 query 上。
type GeminiClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func (c *GeminiClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://generativelanguage.googleapis.com/v1beta"
	}
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", url, c.Model, c.APIKey)
}

func (c *GeminiClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	parts := []map[string]any{{"text": payload.User}}
	for _, img := range payload.Images {
		mediaType, data, ok := splitDataURI(img)
		if !ok {
			continue
		}
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{"mime_type": mediaType, "data": data},
		})
	}
	body := map[string]any{
		"contents": []map[string]any{{"role": "user", "parts": parts}},
	}
	if payload.System != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": payload.System}},
		}
	}
	if payload.MaxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": payload.MaxTokens}
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

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
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Candidates) == 0 {
		return "", fmt.Errorf("empty candidates")
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty parts")
	}
	return sb.String(), nil
}

type GeminiModelProvider struct {
	id     string
	vision bool
	client *GeminiClient
}

func NewGeminiModelProvider(id string, vision bool, client *GeminiClient) *GeminiModelProvider {
	return &GeminiModelProvider{id: id, vision: vision, client: client}
}

func (p *GeminiModelProvider) ID() string           { return p.id }
func (p *GeminiModelProvider) SupportsVision() bool { return p.vision }

func (p *GeminiModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	return p.client.Call(ctx, payload)
}
