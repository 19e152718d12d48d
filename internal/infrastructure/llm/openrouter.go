package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"NewsHub/internal/config"
	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

const errorBodyLimit = 1024

// OpenRouterClient implements ports.ChatClient backed by OpenAI-compatible APIs.
type OpenRouterClient struct {
	endpoint   string
	apiKey     string
	referer    string
	title      string
	httpClient *http.Client
}

var _ ports.ChatClient = (*OpenRouterClient)(nil)

// NewOpenRouterClient builds a client from configuration.
func NewOpenRouterClient(cfg config.AIConfig) *OpenRouterClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenRouterClient{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:   cfg.APIKey,
		referer:  cfg.SiteURL,
		title:    cfg.AppTitle,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int      `json:"prompt_tokens"`
		CompletionTokens int      `json:"completion_tokens"`
		Cost             *float64 `json:"cost"`
	} `json:"usage"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

// Complete sends one chat completion and returns the first choice.
// Failures are *domain.ExternalError so callers can tell transient from permanent.
func (c *OpenRouterClient) Complete(ctx context.Context, in ports.CompletionRequest) (ports.Completion, error) {
	if c == nil {
		return ports.Completion{}, fmt.Errorf("openrouter client is nil")
	}
	op := "complete " + in.Model
	if c.apiKey == "" || c.endpoint == "" || in.Model == "" {
		return ports.Completion{}, &domain.ExternalError{Op: op, Kind: domain.KindPermanent, Err: errors.New("openrouter client misconfigured")}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.Completion{}, domain.TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return ports.Completion{}, domain.StatusError(op, resp.StatusCode, retryAfter(resp.Header),
			fmt.Errorf("openrouter error %s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.Completion{}, &domain.ExternalError{Op: op, Kind: domain.KindServer, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decode completion: %w", err)}
	}
	if decoded.Error != nil {
		return ports.Completion{}, &domain.ExternalError{Op: op, Kind: domain.KindServer, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("openrouter error: %s", decoded.Error.Message)}
	}
	if len(decoded.Choices) == 0 {
		return ports.Completion{}, &domain.ExternalError{Op: op, Kind: domain.KindServer, StatusCode: resp.StatusCode,
			Err: errors.New("completion has no choices")}
	}

	model := decoded.Model
	if model == "" {
		model = in.Model
	}
	return ports.Completion{
		Content:          decoded.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		Cost:             decoded.Usage.Cost,
	}, nil
}

func retryAfter(h http.Header) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
