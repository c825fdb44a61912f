// Package providers builds the concrete capability backends: chat models,
// vision, speech, embeddings and document readers.
package providers

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/rahul/switchboard/pkg/config"
)

// NewChatModel builds the chat model for a configured provider. model
// overrides the provider's default model when non-empty.
func NewChatModel(name string, p config.ProviderConfig, model string, extra ...openai.Option) (*openai.LLM, error) {
	if model == "" {
		model = p.Model
	}
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(append(opts, extra...)...)
	default:
		return nil, fmt.Errorf("provider %s not supported", name)
	}
}

// textHandle backs the text capability.
type textHandle struct {
	model llms.Model
}

func (h *textHandle) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, h.model, prompt)
}

// visionHandle sends an image and an instruction to a multimodal model.
type visionHandle struct {
	model llms.Model
}

func (h *visionHandle) DescribeImage(ctx context.Context, imageURL, instruction string) (string, error) {
	if instruction == "" {
		instruction = "Describe this image."
	}
	msgs := []llms.MessageContent{{
		Role: schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(instruction),
			llms.ImageURLPart(imageURL),
		},
	}}
	resp, err := h.model.GenerateContent(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("vision call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("vision model returned no description")
	}
	return resp.Choices[0].Content, nil
}
