// Package imagegen talks to the Freepik Mystic text-to-image API.
package imagegen

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

	"NewsHub/internal/config"
	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// Client submits generation jobs and polls their state.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.ImageGenerator = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.ImageGenConfig) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type jobEnvelope struct {
	Data struct {
		ID        string   `json:"id"`
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
		Images    []struct {
			URL string `json:"url"`
		} `json:"images"`
		Error string `json:"error"`
	} `json:"data"`
}

// Submit starts a generation and returns the job id.
func (c *Client) Submit(ctx context.Context, prompt string, params ports.ImageParams) (string, error) {
	payload := map[string]any{
		"prompt":             prompt,
		"resolution":         params.Resolution,
		"aspect_ratio":       params.AspectRatio,
		"model":              "realism",
		"creative_detailing": 50,
		"engine":             "automatic",
		"filter_nsfw":        true,
	}

	var resp jobEnvelope
	if err := c.do(ctx, http.MethodPost, "", payload, &resp); err != nil {
		return "", err
	}

	id := resp.Data.TaskID
	if id == "" {
		id = resp.Data.ID
	}
	if id == "" {
		return "", &domain.ExternalError{Op: "submit image", Kind: domain.KindPermanent, Err: errors.New("response carries no job id")}
	}
	return id, nil
}

// Poll reads the job state. Both the documented upper-case states and the
// lower-case variants are accepted.
func (c *Client) Poll(ctx context.Context, jobID string) (ports.ImageJob, error) {
	var resp jobEnvelope
	if err := c.do(ctx, http.MethodGet, "/"+jobID, nil, &resp); err != nil {
		return ports.ImageJob{}, err
	}

	switch strings.ToLower(resp.Data.Status) {
	case "completed":
		url := ""
		if len(resp.Data.Generated) > 0 {
			url = resp.Data.Generated[0]
		} else if len(resp.Data.Images) > 0 {
			url = resp.Data.Images[0].URL
		}
		if url == "" {
			return ports.ImageJob{Status: ports.ImageFailed, Error: "completed without images"}, nil
		}
		return ports.ImageJob{Status: ports.ImageCompleted, ImageURL: url}, nil
	case "failed":
		msg := resp.Data.Error
		if msg == "" {
			msg = "generation failed"
		}
		return ports.ImageJob{Status: ports.ImageFailed, Error: msg}, nil
	default:
		return ports.ImageJob{Status: ports.ImagePending}, nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any, v any) error {
	op := "image " + strings.ToLower(method)
	if c.apiKey == "" || c.endpoint == "" {
		return &domain.ExternalError{Op: op, Kind: domain.KindPermanent, Err: errors.New("image generation misconfigured")}
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-freepik-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.StatusError(op, resp.StatusCode, 0, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
