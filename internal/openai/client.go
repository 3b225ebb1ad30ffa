// 包 openai：对话补全接口的最小客户端，只用于生成带免责声明的估算结果
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
)

const (
	Name           = "openai"
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o"
)

type Client struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/"), Model: model, HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) Configured() bool { return c != nil && c.APIKey != "" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// 文档注释：以 JSON 模式请求补全并解析到 out
// 约束：内容为空返回 empty 类失败；内容不是合法 JSON 返回 decode 类失败。
func (c *Client) ChatJSON(ctx context.Context, system, user string, maxTokens int, temperature float64, out any) error {
	if !c.Configured() {
		return resolver.NewFailure(Name, resolver.KindTransport, fmt.Errorf("missing api key"))
	}
	payload, err := json.Marshal(chatRequest{
		Model:          c.Model,
		Messages:       []message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	t0 := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		logger.L().Error("openai_http_error", "err", err)
		return resolver.Classify(Name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resolver.Classify(Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.L().Error("openai_status_error", "status", resp.StatusCode)
		return resolver.HTTPFailure(Name, resp.StatusCode, "")
	}
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return resolver.NewFailure(Name, resolver.KindDecode, err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return resolver.NewFailure(Name, resolver.KindEmpty, nil)
	}
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), out); err != nil {
		return resolver.NewFailure(Name, resolver.KindDecode, err)
	}
	logger.L().Debug("openai_resp", "model", c.Model, "duration_ms", time.Since(t0).Milliseconds())
	return nil
}
