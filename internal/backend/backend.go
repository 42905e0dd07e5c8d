// Package backend provides the reasoning-backend collaborator: a stateless
// service that turns a text prompt into a text completion.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyluth/warren/pkg/comms"
)

// Backend generates a completion for a prompt. Implementations return errors
// wrapping comms.ErrRateLimitExceeded or comms.ErrBackendUnavailable.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultModel     = "claude-3-5-sonnet-latest"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 60 * time.Second
	anthropicVersion = "2023-06-01"
)

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration // Hard deadline for each call, enforced on the HTTP request
}

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	cfg    AnthropicConfig
	client *resty.Client
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic creates a client. The API key is required.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", anthropicVersion)

	return &Anthropic{cfg: cfg, client: client}, nil
}

// Generate sends prompt as a single user message and returns the text of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var out messagesResponse
	var apiErr apiError
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:     a.cfg.Model,
			MaxTokens: a.cfg.MaxTokens,
			Messages:  []chatMessage{{Role: "user", Content: prompt}},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: call exceeded %s deadline", comms.ErrBackendUnavailable, a.cfg.Timeout)
		}
		return "", fmt.Errorf("%w: %v", comms.ErrBackendUnavailable, err)
	}

	if resp.IsError() {
		detail := apiErr.Error.Message
		if detail == "" {
			detail = resp.Status()
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: provider: %s", comms.ErrRateLimitExceeded, detail)
		}
		return "", fmt.Errorf("%w: status %d: %s", comms.ErrBackendUnavailable, resp.StatusCode(), detail)
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty completion", comms.ErrBackendUnavailable)
	}
	return b.String(), nil
}
