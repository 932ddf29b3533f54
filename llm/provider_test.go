package llm

import (
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider   string
		wantURL    string
		wantPrefix string
	}{
		{"openai", "https://api.openai.com", "/v1"},
		{"deepseek", "https://api.deepseek.com", "/v1"},
		{"openrouter", "https://openrouter.ai/api", "/v1"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", ""},
		{"ollama", "http://localhost:11434", "/v1"},
		{"lmstudio", "http://localhost:1234", "/v1"},
		{"xai", "https://api.x.ai", "/v1"},
		{"custom", "", "/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			c, ok := p.(*Client)
			if !ok {
				t.Fatalf("NewProvider(%q) type = %T, want *Client", tt.provider, p)
			}
			if c.cfg.BaseURL != tt.wantURL {
				t.Errorf("BaseURL = %q, want %q", c.cfg.BaseURL, tt.wantURL)
			}
			if c.pathPrefix != tt.wantPrefix {
				t.Errorf("pathPrefix = %q, want %q", c.pathPrefix, tt.wantPrefix)
			}
			if c.Model() != "test-model" {
				t.Errorf("model = %q", c.Model())
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"", "llm provider not specified"},
		{"doesnotexist", "unknown llm provider: doesnotexist"},
	}
	for _, tt := range tests {
		_, err := NewProvider(Config{Provider: tt.provider})
		if err == nil || err.Error() != tt.want {
			t.Errorf("NewProvider(%q) error = %v, want %q", tt.provider, err, tt.want)
		}
	}
}

// TestExplicitConfigPreserved verifies user-supplied values are not
// overwritten by defaults.
func TestExplicitConfigPreserved(t *testing.T) {
	p, err := NewProvider(Config{
		Provider: "openai",
		Model:    "my-model",
		BaseURL:  "http://my-server:9999",
		APIKey:   "sk-test-key-123",
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	c := p.(*Client)
	if c.cfg.BaseURL != "http://my-server:9999" || c.cfg.Model != "my-model" || c.cfg.APIKey != "sk-test-key-123" {
		t.Errorf("cfg = %+v", c.cfg)
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	p, err := NewProvider(Config{Provider: "deepseek"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	c := p.(*Client)
	if c.cfg.APIKey != "sk-env" {
		t.Errorf("api key = %q, want from env", c.cfg.APIKey)
	}
	if c.cfg.Model != "deepseek-chat" {
		t.Errorf("default model = %q", c.cfg.Model)
	}
}

func TestTimeoutDefaults(t *testing.T) {
	c := NewClient(Config{})
	if c.cfg.ConnectTimeout != DefaultConnectTimeout || c.cfg.ReadTimeout != DefaultReadTimeout {
		t.Errorf("timeouts = %v/%v", c.cfg.ConnectTimeout, c.cfg.ReadTimeout)
	}
	if c.client.Timeout != DefaultReadTimeout {
		t.Errorf("client timeout = %v", c.client.Timeout)
	}
}
