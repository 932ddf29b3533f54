package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	backoffBase      = 1.5
	maxRetryDelay    = 20 * time.Second
	rateLimitBase    = 2 * time.Second
	maxRateLimitWait = 30 * time.Second
	defaultTemp      = 0.1
)

// Client is an OpenAI-compatible chat-completion client.
type Client struct {
	cfg        Config
	client     *http.Client
	pathPrefix string

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for an OpenAI-compatible endpoint rooted at
// cfg.BaseURL + "/v1".
func NewClient(cfg Config) *Client {
	return newClient(cfg, "/v1")
}

func newClient(cfg Config, prefix string) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return &Client{
		cfg:        cfg,
		pathPrefix: prefix,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		sleep: sleepCtx,
	}
}

// Model returns the configured default model.
func (c *Client) Model() string { return c.cfg.Model }

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage *Usage `json:"usage"`
}

// Chat sends one non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temp := req.Temperature
	if temp == 0 {
		temp = defaultTemp
	}
	body := chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
	}

	reqID := uuid.NewString()
	respBody, err := c.doPost(ctx, reqID, c.pathPrefix+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	out := &ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
		slog.Info("llm: usage",
			"req_id", reqID,
			"model", resp.Model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"total_tokens", resp.Usage.TotalTokens,
		)
	}
	return out, nil
}

// retryable reports whether a status code warrants another attempt.
// Client errors other than 429 are final.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// backoff is the delay before retry attempt n (1-based): 1.5^n seconds,
// capped at 20s.
func backoff(n int) time.Duration {
	d := time.Duration(math.Pow(backoffBase, float64(n)) * float64(time.Second))
	return min(d, maxRetryDelay)
}

// rateLimitBackoff is the delay after the n-th 429 (1-based), doubling from
// 2s and capped at 30s. A Retry-After header extends it up to the cap.
func rateLimitBackoff(n int, retryAfter string) time.Duration {
	d := rateLimitBase * time.Duration(1<<(n-1))
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		d = max(d, time.Duration(seconds)*time.Second)
	}
	return min(d, maxRateLimitWait)
}

func (c *Client) doPost(ctx context.Context, reqID, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + path

	var lastErr error
	var delay time.Duration
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("llm: retrying request",
				"req_id", reqID,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("llm: waiting to retry: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", reqID)
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("llm: request canceled: %w", ctx.Err())
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			delay = backoff(attempt + 1)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		slog.Debug("llm: response",
			"req_id", reqID,
			"status", resp.StatusCode,
			"bytes", len(respBody),
			"attempt", attempt,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("llm: reading response: %w", ctx.Err())
			}
			lastErr = fmt.Errorf("reading response body: %w", err)
			delay = backoff(attempt + 1)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 500)}
		lastErr = apiErr
		if !retryable(resp.StatusCode) {
			return nil, apiErr
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			delay = rateLimitBackoff(attempt+1, resp.Header.Get("Retry-After"))
			slog.Warn("llm: rate limited",
				"req_id", reqID,
				"attempt", attempt+1,
				"delay", delay,
			)
		} else {
			delay = backoff(attempt + 1)
		}
	}

	return nil, fmt.Errorf("llm: max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Provider = (*Client)(nil)

// ErrNoChoices is returned when a 200 response carries no choices.
var ErrNoChoices = errors.New("llm: no choices in response")
