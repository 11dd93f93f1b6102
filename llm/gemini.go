package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiProvider talks to Google's Gemini API through the native SDK.
//
// Supported chat models:
//
//	gemini-2.5-flash
//	gemini-2.5-pro
//	gemini-2.0-flash
//
// API key: set via config, DOCQA_LLM_API_KEY or the api_key.gemini setting.
type geminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini creates a provider for Google Gemini.
func NewGemini(cfg Config) (VisionProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider requires api_key")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &geminiProvider{client: client, model: model}, nil
}

// Close releases the underlying client.
func (p *geminiProvider) Close() error {
	return p.client.Close()
}

func (p *geminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]VisionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = VisionMessage{Role: m.Role, Content: []ContentPart{{Type: "text", Text: m.Content}}}
	}
	return p.generate(ctx, req.Model, msgs, req.Temperature, req.MaxTokens)
}

func (p *geminiProvider) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	return p.generate(ctx, req.Model, req.Messages, req.Temperature, req.MaxTokens)
}

func (p *geminiProvider) generate(ctx context.Context, modelName string, msgs []VisionMessage, temperature float64, maxTokens int) (*ChatResponse, error) {
	if modelName == "" {
		modelName = p.model
	}
	model := p.client.GenerativeModel(modelName)
	if temperature > 0 {
		model.SetTemperature(float32(temperature))
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}

	var contents []*genai.Content
	for _, m := range msgs {
		parts, err := geminiParts(m.Content)
		if err != nil {
			return nil, err
		}
		switch m.Role {
		case "system":
			model.SystemInstruction = &genai.Content{Parts: parts}
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: parts})
		}
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no messages to send")
	}

	// The last message is sent; earlier turns become chat history.
	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	resp, err := cs.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates in response")
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	out := &ChatResponse{
		Content:      b.String(),
		Model:        modelName,
		FinishReason: cand.FinishReason.String(),
	}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

func geminiParts(content []ContentPart) ([]genai.Part, error) {
	parts := make([]genai.Part, 0, len(content))
	for _, c := range content {
		switch c.Type {
		case "text":
			parts = append(parts, genai.Text(c.Text))
		case "image_url":
			if c.ImageURL == nil {
				continue
			}
			format, data, err := decodeDataURL(c.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, genai.ImageData(format, data))
		}
	}
	return parts, nil
}

// decodeDataURL splits "data:image/png;base64,..." into its image format
// and decoded bytes.
func decodeDataURL(u string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(u, "data:image/")
	if !ok {
		return "", nil, fmt.Errorf("gemini: only inline data URLs are supported")
	}
	format, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("gemini: malformed data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("gemini: decoding image: %w", err)
	}
	return format, data, nil
}
