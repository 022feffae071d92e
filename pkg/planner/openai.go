package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autoops/autoops/pkg/engine"
)

// OpenAIConfig configures the chat completion client. The endpoint must
// speak the OpenAI chat completions protocol; most local model servers
// do.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// OpenAIModel is a ChatModel backed by an OpenAI-compatible endpoint.
type OpenAIModel struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIModel creates a chat completion client.
func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	cfg = cfg.withDefaults()
	return &OpenAIModel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the prompt pair and returns the first choice's content.
func (m *OpenAIModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: m.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: m.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", engine.NewTransientError("chat completion request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", engine.NewTransientError("failed to read chat response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", engine.NewThrottledError("chat endpoint throttled the request", nil)
	case resp.StatusCode >= 500:
		return "", engine.NewTransientError(
			fmt.Sprintf("chat endpoint returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return "", engine.NewPermanentError(
			fmt.Sprintf("chat endpoint returned %d: %s", resp.StatusCode, payload), nil)
	}

	var cr chatResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if cr.Error != nil {
		return "", engine.NewPermanentError("chat endpoint error: "+cr.Error.Message, nil)
	}
	if len(cr.Choices) == 0 {
		return "", engine.NewPermanentError("chat endpoint returned no choices", nil)
	}
	return cr.Choices[0].Message.Content, nil
}
