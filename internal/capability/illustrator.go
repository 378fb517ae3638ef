package capability

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/llm"
	"github.com/dyluth/quill/pkg/message"
)

// stylePrompts are prompt suffixes for the named art styles.
// Unknown styles are passed through verbatim.
var stylePrompts = map[string]string{
	"children_book": "children book illustration, colorful, friendly, hand-drawn style",
	"cartoon":       "cartoon style, expressive, bold lines, vibrant colors",
	"watercolor":    "watercolor illustration, soft colors, artistic, gentle",
	"line_art":      "black and white line art, detailed, expressive, high contrast",
}

// Illustrator draws one image per scene and stores it under its output directory.
type Illustrator struct {
	gen       llm.ImageGenerator
	outputDir string
	size      string
}

// NewIllustrator returns an illustrator writing files to outputDir.
func NewIllustrator(gen llm.ImageGenerator, outputDir, size string) (*Illustrator, error) {
	if gen == nil {
		return nil, fmt.Errorf("illustrator requires an image generator")
	}
	if outputDir == "" {
		return nil, fmt.Errorf("illustrator requires an output directory")
	}
	return &Illustrator{gen: gen, outputDir: outputDir, size: size}, nil
}

func (il *Illustrator) Role() string { return agent.RoleIllustrator }

func (il *Illustrator) Handle(ctx context.Context, task *message.Task) (message.Payload, error) {
	req, ok := task.Input.(*message.IllustrationRequest)
	if !ok {
		return nil, fmt.Errorf("illustrator expects %s input, got %T", message.KindIllustrationRequest, task.Input)
	}

	prompt := BuildImagePrompt(req)
	log.Printf("[INFO] Generating illustration: backend=%s correlation_id=%s scene=%d",
		il.gen.Name(), task.CorrelationID, req.Scene.Index)

	result, err := il.gen.GenerateImage(ctx, llm.ImageRequest{Prompt: prompt, Size: il.size})
	if err != nil {
		return nil, &agent.GenerationError{Role: agent.RoleIllustrator, Err: err}
	}

	img := message.Image{
		SceneIndex: req.Scene.Index,
		SceneID:    req.Scene.ID,
		Chapter:    req.Scene.Chapter,
		URL:        result.URL,
		MimeType:   result.MimeType,
		Prompt:     prompt,
	}
	if result.RevisedPrompt != "" {
		img.Prompt = result.RevisedPrompt
	}

	if len(result.Data) > 0 {
		path, err := il.save(task.CorrelationID, req.Scene, result)
		if err != nil {
			return nil, &agent.GenerationError{Role: agent.RoleIllustrator, Err: err}
		}
		img.Path = path
	}

	if img.Ref() == "" {
		return nil, &agent.GenerationError{Role: agent.RoleIllustrator, Err: fmt.Errorf("backend returned neither image data nor a url")}
	}

	return &message.IllustrationResponse{SceneIndex: req.Scene.Index, Image: img}, nil
}

// save writes the image bytes to {outputDir}/{correlation_id}/images/{scene}.{ext}.
func (il *Illustrator) save(correlationID string, scene message.Scene, result *llm.ImageResult) (string, error) {
	dir := filepath.Join(il.outputDir, sanitizeFilename(correlationID), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	name := scene.ID
	if name == "" {
		name = fmt.Sprintf("scene_%d", scene.Index)
	}
	path := filepath.Join(dir, fmt.Sprintf("%03d_%s%s", scene.Index, sanitizeFilename(name), extensionFor(result.MimeType)))

	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image %s: %w", path, err)
	}
	return path, nil
}

// BuildImagePrompt combines the scene, its mood, the recurring characters and
// the art style into one prompt.
func BuildImagePrompt(req *message.IllustrationRequest) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Scene.Description))

	if req.Scene.Mood != "" {
		fmt.Fprintf(&b, ". Mood: %s", req.Scene.Mood)
	}

	if len(req.Characters) > 0 {
		parts := make([]string, 0, len(req.Characters))
		for _, c := range req.Characters {
			if c.Description != "" {
				parts = append(parts, fmt.Sprintf("%s (%s)", c.Name, c.Description))
			} else {
				parts = append(parts, c.Name)
			}
		}
		fmt.Fprintf(&b, ". Characters: %s", strings.Join(parts, "; "))
	}

	style := req.Style
	if style == "" {
		style = message.DefaultArtStyle
	}
	if p, ok := stylePrompts[style]; ok {
		style = p
	}
	fmt.Fprintf(&b, ". Style: %s", style)

	return b.String()
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
