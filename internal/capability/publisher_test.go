package capability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publicationTask(req *message.PublicationRequest) *message.Task {
	return &message.Task{
		CorrelationID: "c-42",
		RequestID:     "r-1",
		Phase:         message.PhasePublication,
		Input:         req,
		Attempt:       1,
	}
}

func sampleBook(dir string) *message.PublicationRequest {
	return &message.PublicationRequest{
		Title: "The Whale & the Light!",
		Chapters: []message.Chapter{
			{Number: 1, Title: "Fog", Text: "The fog rolled in.\n\nAda climbed the <tower>."},
			{Number: 2, Title: "Song", Text: strings.Repeat("sing ", 500)},
		},
		Images: []message.Image{
			{SceneIndex: 0, Chapter: 1, Path: filepath.Join(dir, "c_42", "images", "000_a.png"), Prompt: "Ada [climbs]"},
			{SceneIndex: 1, Chapter: 2, URL: "https://img.example/b.png", Prompt: "whale"},
		},
	}
}

func TestPublisher_DefaultFormats(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPublisher(PublisherConfig{OutputDir: dir})
	require.NoError(t, err)

	out, err := p.Handle(context.Background(), publicationTask(sampleBook(dir)))
	require.NoError(t, err)

	resp, ok := out.(*message.PublicationResponse)
	require.True(t, ok)
	require.NoError(t, resp.Validate())

	assert.Equal(t, filepath.Join(dir, "c_42", "The_Whale_the_Light.html"), resp.Artifacts[FormatHTML])
	assert.Equal(t, filepath.Join(dir, "c_42", "The_Whale_the_Light.md"), resp.Artifacts[FormatMarkdown])
	assert.Len(t, resp.Artifacts, 2)

	// 508 words / 250 + 2 images + 2
	assert.Equal(t, message.PublicationMetadata{ChapterCount: 2, ImageCount: 2, PageCount: 6}, resp.Metadata)

	html, err := os.ReadFile(resp.Artifacts[FormatHTML])
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>The Whale &amp; the Light!</title>")
	assert.Contains(t, string(html), "Ada climbed the &lt;tower&gt;.")
	assert.Contains(t, string(html), `src="images/000_a.png"`)
	assert.Contains(t, string(html), `src="https://img.example/b.png"`)

	md, err := os.ReadFile(resp.Artifacts[FormatMarkdown])
	require.NoError(t, err)
	assert.Contains(t, string(md), "# The Whale & the Light!")
	assert.Contains(t, string(md), "## Chapter 1: Fog")
	assert.Contains(t, string(md), "![Ada (climbs)](images/000_a.png)")
}

func TestPublisher_JSONManifest(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPublisher(PublisherConfig{OutputDir: dir})
	require.NoError(t, err)

	req := sampleBook(dir)
	req.Formats = []string{FormatJSON}
	out, err := p.Handle(context.Background(), publicationTask(req))
	require.NoError(t, err)

	path := out.(*message.PublicationResponse).Artifacts[FormatJSON]
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var m manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "The Whale & the Light!", m.Title)
	assert.Len(t, m.Chapters, 2)
	assert.Len(t, m.Images, 2)
	assert.Equal(t, 2, m.Metadata.ChapterCount)
}

func TestPublisher_PDF(t *testing.T) {
	t.Run("requires command", func(t *testing.T) {
		p, err := NewPublisher(PublisherConfig{OutputDir: t.TempDir()})
		require.NoError(t, err)

		req := sampleBook("")
		req.Formats = []string{FormatPDF}
		_, err = p.Handle(context.Background(), publicationTask(req))

		var asmErr *agent.AssemblyError
		require.ErrorAs(t, err, &asmErr)
		assert.Equal(t, FormatPDF, asmErr.Format)
	})

	t.Run("runs converter", func(t *testing.T) {
		dir := t.TempDir()
		p, err := NewPublisher(PublisherConfig{
			OutputDir:  dir,
			PDFCommand: []string{"sh", "-c", `cp "$0" "$1"`, "{input}", "{output}"},
		})
		require.NoError(t, err)

		req := sampleBook(dir)
		req.Formats = []string{FormatPDF}
		out, err := p.Handle(context.Background(), publicationTask(req))
		require.NoError(t, err)

		path := out.(*message.PublicationResponse).Artifacts[FormatPDF]
		assert.True(t, strings.HasSuffix(path, ".pdf"))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<html")
	})

	t.Run("converter failure", func(t *testing.T) {
		p, err := NewPublisher(PublisherConfig{
			OutputDir:  t.TempDir(),
			PDFCommand: []string{"sh", "-c", "echo broken >&2; exit 3"},
		})
		require.NoError(t, err)

		req := sampleBook("")
		req.Formats = []string{FormatPDF}
		_, err = p.Handle(context.Background(), publicationTask(req))

		var asmErr *agent.AssemblyError
		require.ErrorAs(t, err, &asmErr)
		assert.Contains(t, err.Error(), "exited with code 3")
	})
}

func TestPublisher_UnknownFormat(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{OutputDir: t.TempDir()})
	require.NoError(t, err)

	req := sampleBook("")
	req.Formats = []string{"epub"}
	_, err = p.Handle(context.Background(), publicationTask(req))

	var asmErr *agent.AssemblyError
	require.ErrorAs(t, err, &asmErr)
}

func TestEstimatePages(t *testing.T) {
	assert.Equal(t, 2, EstimatePages(0, 0))
	assert.Equal(t, 2, EstimatePages(249, 0))
	assert.Equal(t, 7, EstimatePages(1000, 1))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Whale & the Light!", "The_Whale_the_Light"},
		{"  spaced - out  ", "spaced_out"},
		{"???", "untitled"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}
