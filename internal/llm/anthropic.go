package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicText generates text with the Anthropic Messages API.
type AnthropicText struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicText creates a generator. An empty apiKey falls back to the
// ANTHROPIC_API_KEY environment variable read by the SDK.
func NewAnthropicText(model, apiKey string) *AnthropicText {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return NewAnthropicTextFromClient(&client, model)
}

// NewAnthropicTextFromClient creates a generator on an existing client.
func NewAnthropicTextFromClient(client *anthropic.Client, model string) *AnthropicText {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5Sonnet20241022
	}
	return &AnthropicText{client: client, model: m}
}

func (a *AnthropicText) Name() string {
	return "anthropic/" + string(a.model)
}

// GenerateText sends one user message and concatenates the text blocks of the reply.
func (a *AnthropicText) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	params := anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("anthropic returned no text")
	}
	return text, nil
}
