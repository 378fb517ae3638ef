package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func newOpenAIClient(apiKey string) *openai.Client {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(clientOpts...)
	return &client
}

// OpenAIText generates text with the Chat Completions API.
type OpenAIText struct {
	client *openai.Client
	model  string
}

// NewOpenAIText creates a generator. An empty apiKey falls back to the
// OPENAI_API_KEY environment variable read by the SDK.
func NewOpenAIText(model, apiKey string) *OpenAIText {
	return NewOpenAITextFromClient(newOpenAIClient(apiKey), model)
}

// NewOpenAITextFromClient creates a generator on an existing client.
func NewOpenAITextFromClient(client *openai.Client, model string) *OpenAIText {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIText{client: client, model: model}
}

func (o *OpenAIText) Name() string {
	return "openai/" + o.model
}

// GenerateText runs a non-streaming chat completion and returns the first choice.
func (o *OpenAIText) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               o.model,
		Messages:            messages,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai returned no text")
	}
	return text, nil
}

// OpenAIImages generates images with the Images API.
type OpenAIImages struct {
	client *openai.Client
	model  openai.ImageModel
}

// NewOpenAIImages creates an image generator, defaulting to DALL-E 3.
func NewOpenAIImages(model, apiKey string) *OpenAIImages {
	return NewOpenAIImagesFromClient(newOpenAIClient(apiKey), model)
}

// NewOpenAIImagesFromClient creates an image generator on an existing client.
func NewOpenAIImagesFromClient(client *openai.Client, model string) *OpenAIImages {
	m := openai.ImageModel(model)
	if model == "" {
		m = openai.ImageModelDallE3
	}
	return &OpenAIImages{client: client, model: m}
}

func (o *OpenAIImages) Name() string {
	return "openai/" + string(o.model)
}

// GenerateImage requests a single base64-encoded PNG.
func (o *OpenAIImages) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	size := openai.ImageGenerateParamsSize1024x1024
	if req.Size != "" {
		size = openai.ImageGenerateParamsSize(req.Size)
	}

	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          o.model,
		N:              openai.Int(1),
		Size:           size,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai images api error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no images returned")
	}

	img := resp.Data[0]
	result := &ImageResult{
		MimeType:      "image/png",
		URL:           img.URL,
		RevisedPrompt: img.RevisedPrompt,
	}
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image data: %w", err)
		}
		result.Data = data
	}
	if result.Data == nil && result.URL == "" {
		return nil, fmt.Errorf("image response carried neither data nor URL")
	}
	return result, nil
}
