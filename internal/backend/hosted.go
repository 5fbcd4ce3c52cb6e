package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const hostedDefaultTimeout = 60 * time.Second

// HostedBackend serves completions from an OpenAI-compatible hosted API.
type HostedBackend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHosted creates the hosted backend. baseURL must point at an
// OpenAI-compatible /chat/completions endpoint root.
func NewHosted(apiKey, baseURL, model string) *HostedBackend {
	return &HostedBackend{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: hostedDefaultTimeout,
		},
	}
}

func (b *HostedBackend) Name() Name { return Hosted }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends the prompt as a single user message. A 429 status or a
// quota-flavored error body maps to ErrQuotaExceeded so the router can
// fail over permanently.
func (b *HostedBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       b.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hosted completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("hosted API rate limited: %w", ErrQuotaExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if isQuotaMessage(string(msg)) {
			return "", fmt.Errorf("hosted API: %w", ErrQuotaExceeded)
		}
		return "", fmt.Errorf("hosted API status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != nil {
		if isQuotaMessage(result.Error.Message) {
			return "", fmt.Errorf("hosted API: %w", ErrQuotaExceeded)
		}
		return "", fmt.Errorf("hosted API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("hosted API returned no choices")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func isQuotaMessage(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "quota") || strings.Contains(s, "429")
}
