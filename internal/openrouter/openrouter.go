// Package openrouter is a thin client for the OpenRouter chat-completions
// API. It covers the two call shapes the rest of the system needs: one-shot
// completions for the planner and judge, and SSE streaming for the swarm.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// temperature is fixed low so repetitions of one scenario stay comparable.
const temperature = 0.2

const requestTimeout = 60 * time.Second

// ErrNoAPIKey is returned by New when no credential is configured.
var ErrNoAPIKey = errors.New("openrouter: OPENROUTER_API_KEY is not set")

// Opts configures a Client.
type Opts struct {
	APIKey   string
	BaseURL  string
	Model    string // default model when a call does not name one
	SiteURL  string // sent as HTTP-Referer for OpenRouter attribution
	SiteName string // sent as X-Title

	// ReasoningEffort, when set, is forwarded on streaming requests so
	// models that expose reasoning emit reasoning_details frames.
	ReasoningEffort string
}

// Client talks to one OpenRouter-compatible endpoint.
type Client struct {
	opts Opts
	http *http.Client
}

// New builds a Client. The API key is required; everything else defaults.
func New(opts Opts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIKey})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = requestTimeout

	return &Client{opts: opts, http: httpClient}, nil
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the non-streaming response shape.
type Completion struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   map[string]any `json:"usage"`
}

// Choice is one completion alternative.
type Choice struct {
	Message Message `json:"message"`
}

// Text returns the first choice's content, or "" when there is none.
func (c *Completion) Text() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// Complete performs a one-shot chat completion. An empty model falls back
// to the client's default model.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	if model == "" {
		model = c.opts.Model
	}
	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("chat completion", resp)
	}

	var completion Completion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("openrouter: decode completion: %w", err)
	}
	return &completion, nil
}

func (c *Client) post(ctx context.Context, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.opts.SiteURL)
	}
	if c.opts.SiteName != "" {
		req.Header.Set("X-Title", c.opts.SiteName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: request: %w", err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("openrouter: %s: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
}
