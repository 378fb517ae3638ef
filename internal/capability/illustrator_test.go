package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/llm"
	"github.com/dyluth/quill/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	result *llm.ImageResult
	err    error
}

func (f *fakeImages) Name() string { return "fake" }

func (f *fakeImages) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	return f.result, f.err
}

func illustrationTask(scene message.Scene) *message.Task {
	return &message.Task{
		CorrelationID: "7d0c0a52-95e5-4a53-8d3c-5a9a3c1d7e11",
		RequestID:     "r-1",
		Phase:         message.PhaseIllustration,
		Input: &message.IllustrationRequest{
			Scene:      scene,
			Style:      "watercolor",
			Characters: []message.Character{{Name: "Ada", Description: "keeper's daughter"}},
		},
		Attempt: 1,
	}
}

func TestIllustrator_WritesImageFile(t *testing.T) {
	dir := t.TempDir()
	il, err := NewIllustrator(llm.NewPlaceholderImages(16, 16), dir, "")
	require.NoError(t, err)

	scene := message.Scene{Index: 4, ID: "ch2_scene1", Chapter: 2, Description: "Ada climbs the tower"}
	out, err := il.Handle(context.Background(), illustrationTask(scene))
	require.NoError(t, err)

	resp, ok := out.(*message.IllustrationResponse)
	require.True(t, ok)
	require.NoError(t, resp.Validate())
	assert.Equal(t, 4, resp.SceneIndex)
	assert.Equal(t, 2, resp.Image.Chapter)
	assert.Equal(t, "ch2_scene1", resp.Image.SceneID)
	assert.Equal(t, "image/png", resp.Image.MimeType)

	expected := filepath.Join(dir, "7d0c0a52_95e5_4a53_8d3c_5a9a3c1d7e11", "images", "004_ch2_scene1.png")
	assert.Equal(t, expected, resp.Image.Path)

	data, err := os.ReadFile(resp.Image.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestIllustrator_URLOnlyBackend(t *testing.T) {
	gen := &fakeImages{result: &llm.ImageResult{URL: "https://img.example/1.png", RevisedPrompt: "revised"}}
	il, err := NewIllustrator(gen, t.TempDir(), "1024x1024")
	require.NoError(t, err)

	out, err := il.Handle(context.Background(), illustrationTask(message.Scene{Index: 0, Description: "a whale"}))
	require.NoError(t, err)

	resp := out.(*message.IllustrationResponse)
	assert.Empty(t, resp.Image.Path)
	assert.Equal(t, "https://img.example/1.png", resp.Image.URL)
	assert.Equal(t, "revised", resp.Image.Prompt)
}

func TestIllustrator_Failures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeImages
	}{
		{"backend error", &fakeImages{err: errors.New("content policy")}},
		{"empty result", &fakeImages{result: &llm.ImageResult{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			il, err := NewIllustrator(tt.gen, t.TempDir(), "")
			require.NoError(t, err)

			_, err = il.Handle(context.Background(), illustrationTask(message.Scene{Index: 0, Description: "a whale"}))
			var genErr *agent.GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, agent.RoleIllustrator, genErr.Role)
		})
	}
}

func TestNewIllustrator_Validation(t *testing.T) {
	_, err := NewIllustrator(nil, t.TempDir(), "")
	assert.Error(t, err)

	_, err = NewIllustrator(llm.NewPlaceholderImages(0, 0), "", "")
	assert.Error(t, err)
}

func TestBuildImagePrompt(t *testing.T) {
	req := &message.IllustrationRequest{
		Scene:      message.Scene{Description: "Ada waves", Mood: "hopeful"},
		Style:      "line_art",
		Characters: []message.Character{{Name: "Ada", Description: "girl in a red coat"}, {Name: "Moby"}},
	}
	prompt := BuildImagePrompt(req)
	assert.Equal(t, "Ada waves. Mood: hopeful. Characters: Ada (girl in a red coat); Moby. "+
		"Style: black and white line art, detailed, expressive, high contrast", prompt)

	req = &message.IllustrationRequest{Scene: message.Scene{Description: "Ada waves"}, Style: "pixel art"}
	assert.Equal(t, "Ada waves. Style: pixel art", BuildImagePrompt(req))

	req = &message.IllustrationRequest{Scene: message.Scene{Description: "Ada waves"}}
	assert.Contains(t, BuildImagePrompt(req), "children book illustration")
}
