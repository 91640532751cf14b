package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/newsrag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrNoChoices is returned when the model answers with no content.
var ErrNoChoices = errors.New("model returned no choices")

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client      llms.Model
	temperature float64
	logger      *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

func newGenerator(config *ai.Config) (*Generator, error) {
	client, err := newChatClient(config)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client:      client,
		temperature: config.Temperature,
		logger:      slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new answer generator.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newGenerator(config)
}

func newChatClient(config *ai.Config) (llms.Model, error) {
	return openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.GeneratorModel),
	)
}

// Generate sends the system and user prompts and returns the model's reply.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	response, err := g.client.GenerateContent(ctx, chatMessages(system, prompt), llms.WithTemperature(g.temperature))
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", classifyError(err)
	}
	if len(response.Choices) < 1 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(response.Choices[0].Content), nil
}

func chatMessages(system, prompt string) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, 2)
	if system != "" {
		content = append(content, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	return append(content, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})
}
