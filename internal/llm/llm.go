// Package llm wraps the hosted text and image models used by the author and
// illustrator capabilities behind two small interfaces.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// TextRequest is a single prompt/completion exchange.
type TextRequest struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Name() string
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageRequest asks for one image.
type ImageRequest struct {
	Prompt string
	Size   string
}

// ImageResult is a generated image. Data holds the encoded bytes when the
// backend returns them inline; URL is set when it only hosts the image.
type ImageResult struct {
	Data          []byte
	MimeType      string
	URL           string
	RevisedPrompt string
}

// ImageGenerator produces images from a prompt.
type ImageGenerator interface {
	Name() string
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// Backend names accepted in configuration.
const (
	BackendAnthropic   = "anthropic"
	BackendOpenAI      = "openai"
	BackendTemplate    = "template"
	BackendPlaceholder = "placeholder"
)

// Options selects and tunes a backend.
type Options struct {
	Backend string
	Model   string
	APIKey  string
}

// NewTextGenerator builds the text backend named in opts.
// The template backend has no generator and returns nil.
func NewTextGenerator(opts Options) (TextGenerator, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendAnthropic:
		return NewAnthropicText(opts.Model, opts.APIKey), nil
	case BackendOpenAI:
		return NewOpenAIText(opts.Model, opts.APIKey), nil
	case "", BackendTemplate:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown text backend %q (expected anthropic, openai or template)", opts.Backend)
	}
}

// NewImageGenerator builds the image backend named in opts.
func NewImageGenerator(opts Options) (ImageGenerator, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendOpenAI:
		return NewOpenAIImages(opts.Model, opts.APIKey), nil
	case "", BackendPlaceholder:
		return NewPlaceholderImages(512, 512), nil
	default:
		return nil, fmt.Errorf("unknown image backend %q (expected openai or placeholder)", opts.Backend)
	}
}
