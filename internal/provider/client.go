// Package provider is the HTTP client for the external model provider
// (OpenRouter-compatible chat completions). Calls are single-shot here;
// retry and backoff policy belongs to the dispatch layer.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sumgrid/internal/config"
	"sumgrid/internal/observability"
)

var (
	ErrEmptyCompletion = errors.New("provider: completion had no content")
	ErrRequestFailed   = errors.New("provider: request failed")
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 500
	temperature      = 0.7
)

// Client calls the chat completions endpoint with a fixed model and
// credential, both resolved from configuration at startup.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	nodeLabel string
	http      *http.Client
}

// NewClient builds a provider client from the resolved API configuration.
func NewClient(api config.APIConfig, nodeID int) *Client {
	return &Client{
		baseURL:   strings.TrimRight(api.BaseURL, "/"),
		apiKey:    api.Key,
		model:     api.Model,
		nodeLabel: observability.NodeLabel(nodeID),
		http:      &http.Client{Timeout: defaultTimeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
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
}

// Complete sends one user prompt and returns the model's reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   defaultMaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("provider: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordProviderCall(c.nodeLabel, "transport_error", time.Since(start))
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		observability.RecordProviderCall(c.nodeLabel, "error", time.Since(start))
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("provider returned error status")
		return "", fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		observability.RecordProviderCall(c.nodeLabel, "decode_error", time.Since(start))
		return "", fmt.Errorf("provider: decode response: %w", err)
	}
	observability.RecordProviderCall(c.nodeLabel, "ok", time.Since(start))

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Model reports the configured model identifier.
func (c *Client) Model() string {
	return c.model
}
