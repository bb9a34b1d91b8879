package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arvhal/replagent/internal/core/domain"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// Works with: OpenAI, Azure OpenAI, Together AI, local Ollama /v1, etc.
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

// GenerateText sends a single-turn completion request. Failures are
// classified as domain.ModelError so the caller can tell transient faults
// (retry with backoff) from fatal ones (fail the job).
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/chat/completions", p.baseURL)

	payload := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Network-level failures are retryable.
		return "", &domain.ModelError{Transient: true, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &domain.ModelError{
			StatusCode: resp.StatusCode,
			Transient:  transientStatus(resp.StatusCode),
			Detail:     string(body),
		}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &domain.ModelError{Transient: true, Detail: fmt.Sprintf("failed to decode response: %v", err)}
	}

	if len(result.Choices) == 0 {
		return "", &domain.ModelError{Detail: "no choices in response"}
	}

	return result.Choices[0].Message.Content, nil
}

// transientStatus reports whether a non-200 status is worth retrying.
func transientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
