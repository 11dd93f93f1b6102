package llm

import (
	"context"
	"fmt"
	"sort"
)

// Provider is the interface for LLM chat completions.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// VisionProvider extends Provider with image understanding.
type VisionProvider interface {
	Provider
	// ChatWithImages sends a chat request that includes images.
	ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// VisionChatRequest is a chat request with image content.
type VisionChatRequest struct {
	Model       string          `json:"model"`
	Messages    []VisionMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// Message represents a chat message. Role is "system", "user" or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VisionMessage represents a chat message that may contain images.
type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either text or an image in a vision message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL contains a base64 data URL or a remote URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // openai, gemini, ollama, groq, openrouter, lmstudio, xai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// preset holds the defaults of an OpenAI-compatible service.
type preset struct {
	baseURL    string
	pathPrefix string
	model      string
	keyless    bool
}

var presets = map[string]preset{
	"openai":     {baseURL: "https://api.openai.com", pathPrefix: "/v1", model: "gpt-4o-mini"},
	"groq":       {baseURL: "https://api.groq.com/openai", pathPrefix: "/v1", model: "meta-llama/llama-4-scout-17b-16e-instruct"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1", model: "openai/gpt-4o-mini"},
	"xai":        {baseURL: "https://api.x.ai", pathPrefix: "/v1", model: "grok-2-vision-1212"},
	"ollama":     {baseURL: "http://localhost:11434", pathPrefix: "/v1", model: "llava", keyless: true},
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1", keyless: true},
	"custom":     {pathPrefix: "/v1"},
}

const defaultGeminiModel = "gemini-2.0-flash"

// Providers returns the names accepted by NewProvider.
func Providers() []string {
	names := []string{"gemini"}
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresAPIKey reports whether the provider needs a credential.
func RequiresAPIKey(provider string) bool {
	if p, ok := presets[provider]; ok {
		return !p.keyless
	}
	return true
}

// NewProvider creates an LLM provider from configuration. Every provider
// returned also implements VisionProvider.
func NewProvider(cfg Config) (VisionProvider, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	case "gemini":
		return NewGemini(cfg)
	}

	p, ok := presets[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		if p.baseURL == "" {
			return nil, fmt.Errorf("llm provider %s requires base_url", cfg.Provider)
		}
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.model
	}
	return &openAICompatProvider{base: newOpenAICompatClientPrefix(cfg, p.pathPrefix)}, nil
}
