package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/membank/internal/costs"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTurns  = 40
	defaultTimeout   = 120 * time.Second
	defaultRateLimit = 2.0 // requests per second
	defaultBurst     = 4
	maxOutputTokens  = 8192
	apiVersion       = "2023-06-01"
)

// ClientConfig configures the HTTP invoker.
type ClientConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`

	// TurnTimeout bounds a single API round-trip. A turn that produces no
	// response within this interval aborts the invocation as a timeout.
	TurnTimeout time.Duration `koanf:"turn_timeout"`

	// MaxTurns is the default ceiling when a request does not set one.
	MaxTurns int `koanf:"max_turns"`

	// RateLimit and Burst throttle requests against the capability's own
	// rate limits.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// Client invokes the Anthropic API over HTTP. It is the production Invoker.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTurns   int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// message mirrors the Anthropic messages API request entry.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates an HTTP invoker from config.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTimeout
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}

	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		model:    cfg.Model,
		maxTurns: cfg.MaxTurns,
		timeout:  cfg.TurnTimeout,
		httpClient: &http.Client{
			Timeout: cfg.TurnTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}, nil
}

// Invoke runs one bounded agent invocation. The model is driven turn by
// turn until it signals completion; hitting the turn ceiling first yields
// FailureBudgetExceeded, a silent round-trip yields FailureTimeout.
func (c *Client) Invoke(ctx context.Context, req Request) (*Output, error) {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.maxTurns
	}

	messages := []message{{Role: "user", Content: renderPrompt(req)}}
	var (
		text  strings.Builder
		usage costs.Usage
		turns int
	)

	start := time.Now()
	defer func() {
		observeInvocation(ctx, req.Role, turns, usage, time.Since(start))
	}()

	for turns < maxTurns {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Failure{Kind: FailureTimeout, Err: err, Usage: usage}
		}

		resp, err := c.sendTurn(ctx, apiRequest{
			Model:     c.model,
			MaxTokens: maxOutputTokens,
			System:    req.System,
			Messages:  messages,
		})
		turns++
		if err != nil {
			if f, ok := AsFailure(err); ok {
				f.Usage = usage
				return nil, f
			}
			return nil, &Failure{Kind: FailureCapability, Err: err, Usage: usage}
		}

		usage = usage.Add(costs.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})

		chunk := collectText(resp)
		text.WriteString(chunk)

		if resp.StopReason != "max_tokens" {
			out := &Output{
				Text:  text.String(),
				Files: ParseFileBlocks(text.String()),
				Turns: turns,
				Usage: usage,
			}
			return out, nil
		}

		// The model ran out of output budget mid-answer; ask it to resume.
		messages = append(messages,
			message{Role: "assistant", Content: chunk},
			message{Role: "user", Content: "Continue exactly where you left off."},
		)
	}

	return nil, &Failure{
		Kind:  FailureBudgetExceeded,
		Err:   fmt.Errorf("turn ceiling %d reached before completion", maxTurns),
		Usage: usage,
	}
}

// sendTurn performs a single API round-trip with the per-turn timeout.
func (c *Client) sendTurn(ctx context.Context, body apiRequest) (*apiResponse, error) {
	turnCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(turnCtx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &Failure{Kind: FailureTimeout, Err: err}
		}
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 32*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (status %d, %s): %s", httpResp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (status %d)", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func collectText(resp *apiResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// renderPrompt flattens the instruction and context files into the user turn.
func renderPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Instruction)
	for _, f := range req.Context {
		b.WriteString("\n\n<file path=\"")
		b.WriteString(f.Path)
		b.WriteString("\">\n")
		b.WriteString(f.Content)
		b.WriteString("\n</file>")
	}
	return b.String()
}
