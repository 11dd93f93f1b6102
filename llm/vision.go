package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// ImagePrompt asks a vision model to describe a rendered document page.
const ImagePrompt = `Describe this document page image for a search index.
Start with what kind of visual it is (chart, diagram, table, photo, screenshot, map or other image).
Then summarise what it shows, including any readable labels, numbers, axes and legends.
Answer in plain prose, no markdown, at most 200 words.`

// PNGDataURL encodes PNG bytes as a base64 data URL.
func PNGDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// DescribeImage sends a single PNG with ImagePrompt and returns the
// trimmed description. An empty answer is an error.
func DescribeImage(ctx context.Context, p VisionProvider, model string, png []byte) (string, error) {
	resp, err := p.ChatWithImages(ctx, VisionChatRequest{
		Model: model,
		Messages: []VisionMessage{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: ImagePrompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: PNGDataURL(png)}},
			},
		}},
		Temperature: 0.1,
		MaxTokens:   400,
	})
	if err != nil {
		return "", err
	}
	desc := strings.TrimSpace(resp.Content)
	if desc == "" {
		return "", fmt.Errorf("empty image description")
	}
	return desc, nil
}
