// Package llm is the chat-completion transport used by the extraction
// engine: a Provider interface and an OpenAI-compatible HTTP client with
// the retry and back-off policy of the analysis service.
package llm

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage is the token accounting reported by the service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into the receiver.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Config configures an LLM provider.
type Config struct {
	Provider       string        `json:"provider" yaml:"provider"` // openai, deepseek, openrouter, groq, xai, gemini, ollama, lmstudio, custom
	Model          string        `json:"model" yaml:"model"`
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	APIKey         string        `json:"api_key" yaml:"api_key"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
}

// Defaults for the transport.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 120 * time.Second
	DefaultMaxRetries     = 3
)

type providerDefaults struct {
	baseURL string
	prefix  string // API path prefix in front of /chat/completions
	model   string
	keyEnv  string
}

var providers = map[string]providerDefaults{
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "gpt-4o-mini", keyEnv: "OPENAI_API_KEY"},
	"deepseek":   {baseURL: "https://api.deepseek.com", prefix: "/v1", model: "deepseek-chat", keyEnv: "DEEPSEEK_API_KEY"},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1", keyEnv: "OPENROUTER_API_KEY"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile", keyEnv: "GROQ_API_KEY"},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1", keyEnv: "XAI_API_KEY"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", prefix: "", model: "gemini-2.5-flash", keyEnv: "GEMINI_API_KEY"},
	"ollama":     {baseURL: "http://localhost:11434", prefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", prefix: "/v1"},
	"custom":     {prefix: "/v1"},
}

// NewProvider creates an LLM provider from configuration. Empty fields are
// filled from the provider's defaults; the API key falls back to the
// provider's conventional environment variable.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	def, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.model
	}
	if cfg.APIKey == "" && def.keyEnv != "" {
		cfg.APIKey = os.Getenv(def.keyEnv)
	}
	return newClient(cfg, def.prefix), nil
}
