package llm

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
)

// PlaceholderImages renders a deterministic two-tone PNG per prompt. It lets
// the pipeline run without an image model.
type PlaceholderImages struct {
	width, height int
}

// NewPlaceholderImages creates a placeholder generator of the given size.
func NewPlaceholderImages(width, height int) *PlaceholderImages {
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}
	return &PlaceholderImages{width: width, height: height}
}

func (p *PlaceholderImages) Name() string {
	return "placeholder"
}

// GenerateImage draws a diagonal split in two colours derived from the prompt.
func (p *PlaceholderImages) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	h := fnv.New32a()
	h.Write([]byte(req.Prompt))
	sum := h.Sum32()

	fg := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}
	bg := color.RGBA{R: 255 - fg.R, G: 255 - fg.G, B: 255 - fg.B, A: 255}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			if x*p.height > y*p.width {
				img.Set(x, y, fg)
			} else {
				img.Set(x, y, bg)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder: %w", err)
	}

	return &ImageResult{Data: buf.Bytes(), MimeType: "image/png", RevisedPrompt: req.Prompt}, nil
}
