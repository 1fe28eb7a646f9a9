// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/danielhkuo/quickform/models"
)

var (
	ErrNotConfigured   = errors.New("AI provider is not configured")
	ErrUnknownProvider = errors.New("unknown AI provider")
	ErrEmptyResponse   = errors.New("AI provider returned no content")
)

// Provider describes one OpenAI-compatible endpoint
type Provider struct {
	Label   string
	BaseURL string
	Model   string
}

var providers = map[string]Provider{
	models.ProviderChatServer: {
		Label: "SiliconFlow",
		Model: "deepseek-ai/DeepSeek-V3",
	},
	models.ProviderDeepSeek: {
		Label:   "DeepSeek",
		BaseURL: "https://api.deepseek.com/v1",
		Model:   "deepseek-chat",
	},
	models.ProviderDoubao: {
		Label:   "Doubao",
		BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		Model:   "doubao-1-5-pro-32k-250115",
	},
	models.ProviderQwen: {
		Label:   "Alibaba Bailian",
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-plus",
	},
}

// ModelLabel returns the display name of a provider, or the key itself
func ModelLabel(provider string) string {
	if p, ok := providers[provider]; ok {
		return p.Label
	}
	return provider
}

// KnownProvider reports whether provider is supported
func KnownProvider(provider string) bool {
	_, ok := providers[provider]
	return ok
}

// Completer is the part of Client the report service depends on
type Completer interface {
	Complete(ctx context.Context, cfg models.AIConfig, prompt string) (string, error)
}

// Client sends prompts to whichever provider a user selected
type Client struct {
	// Server-wide chat_server defaults used when the user has none
	chatServerURL   string
	chatServerToken string
	timeout         time.Duration
}

func NewClient(chatServerURL, chatServerToken string) *Client {
	return &Client{
		chatServerURL:   strings.TrimRight(chatServerURL, "/"),
		chatServerToken: chatServerToken,
		timeout:         5 * time.Minute,
	}
}

// endpoint resolves base URL, key and model for a user's configuration
func (c *Client) endpoint(cfg models.AIConfig) (Provider, string, error) {
	p, ok := providers[cfg.SelectedModel]
	if !ok {
		return Provider{}, "", fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.SelectedModel)
	}

	var key string
	switch cfg.SelectedModel {
	case models.ProviderChatServer:
		p.BaseURL = c.chatServerURL
		if u := strings.TrimSpace(cfg.ChatServerAPIURL); u != "" {
			p.BaseURL = strings.TrimRight(u, "/")
		}
		key = c.chatServerToken
		if tok := strings.TrimSpace(cfg.ChatServerAPIToken); tok != "" {
			key = tok
		}
	case models.ProviderDeepSeek:
		key = cfg.DeepSeekAPIKey
	case models.ProviderDoubao:
		key = cfg.DoubaoAPIKey
	case models.ProviderQwen:
		key = cfg.QwenAPIKey
	}

	if p.BaseURL == "" || strings.TrimSpace(key) == "" {
		return Provider{}, "", fmt.Errorf("%w: %s", ErrNotConfigured, p.Label)
	}
	return p, key, nil
}

// Check reports whether cfg can be used without calling the provider
func (c *Client) Check(cfg models.AIConfig) error {
	_, _, err := c.endpoint(cfg)
	return err
}

// Complete sends a single-turn chat completion and returns the reply text
func (c *Client) Complete(ctx context.Context, cfg models.AIConfig, prompt string) (string, error) {
	p, key, err := c.endpoint(cfg)
	if err != nil {
		return "", err
	}

	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = p.BaseURL
	client := openai.NewClientWithConfig(clientCfg)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", p.Label, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	slog.Info("ai completion",
		"provider", cfg.SelectedModel,
		"model", p.Model,
		"prompt_chars", len(prompt),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}
