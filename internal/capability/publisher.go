package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/pkg/message"
)

// Publication formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatPDF      = "pdf"
)

// DefaultFormats are produced when a request names none.
var DefaultFormats = []string{FormatHTML, FormatMarkdown}

// wordsPerPage drives the page count estimate.
const wordsPerPage = 250

// PublisherConfig configures the built-in publisher.
type PublisherConfig struct {
	OutputDir string

	// PDFCommand converts the HTML edition to PDF. "{input}" and "{output}"
	// in any argument are replaced with the file paths.
	PDFCommand []string
	PDFTimeout time.Duration
}

// Publisher assembles chapters and images into finished artifacts.
type Publisher struct {
	cfg PublisherConfig
}

// NewPublisher returns a publisher writing under cfg.OutputDir.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("publisher requires an output directory")
	}
	return &Publisher{cfg: cfg}, nil
}

func (p *Publisher) Role() string { return agent.RolePublisher }

func (p *Publisher) Handle(ctx context.Context, task *message.Task) (message.Payload, error) {
	req, ok := task.Input.(*message.PublicationRequest)
	if !ok {
		return nil, fmt.Errorf("publisher expects %s input, got %T", message.KindPublicationRequest, task.Input)
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	for _, f := range formats {
		if err := p.checkFormat(f); err != nil {
			return nil, &agent.AssemblyError{Format: f, Err: err}
		}
	}

	dir := filepath.Join(p.cfg.OutputDir, sanitizeFilename(task.CorrelationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &agent.AssemblyError{Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	title := req.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled Story"
	}
	book := newBook(title, req.Chapters, req.Images, dir)
	base := filepath.Join(dir, sanitizeFilename(title))

	resp := &message.PublicationResponse{
		Artifacts: make(map[string]string, len(formats)),
		Metadata:  book.metadata(),
	}

	log.Printf("[INFO] Assembling publication: correlation_id=%s formats=%s chapters=%d images=%d",
		task.CorrelationID, strings.Join(formats, ","), resp.Metadata.ChapterCount, resp.Metadata.ImageCount)

	for _, format := range formats {
		path, err := p.render(ctx, format, book, base, resp)
		if err != nil {
			return nil, &agent.AssemblyError{Format: format, Err: err}
		}
		resp.Artifacts[format] = path
		log.Printf("[DEBUG] Wrote %s artifact: %s", format, path)
	}

	return resp, nil
}

func (p *Publisher) checkFormat(format string) error {
	switch format {
	case FormatHTML, FormatMarkdown, FormatJSON:
		return nil
	case FormatPDF:
		if len(p.cfg.PDFCommand) == 0 {
			return fmt.Errorf("pdf output requires a configured pdf command")
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func (p *Publisher) render(ctx context.Context, format string, b *book, base string, resp *message.PublicationResponse) (string, error) {
	switch format {
	case FormatHTML:
		return b.writeHTML(base + ".html")
	case FormatMarkdown:
		return b.writeMarkdown(base + ".md")
	case FormatJSON:
		return b.writeManifest(base+".json", resp)
	case FormatPDF:
		return p.writePDF(ctx, b, base)
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// writePDF renders the HTML edition (reusing it if already written) and runs
// the configured converter over it.
func (p *Publisher) writePDF(ctx context.Context, b *book, base string) (string, error) {
	input := base + ".html"
	if _, err := os.Stat(input); err != nil {
		if _, err := b.writeHTML(input); err != nil {
			return "", err
		}
	}
	output := base + ".pdf"

	argv := make([]string, len(p.cfg.PDFCommand))
	for i, arg := range p.cfg.PDFCommand {
		arg = strings.ReplaceAll(arg, "{input}", input)
		argv[i] = strings.ReplaceAll(arg, "{output}", output)
	}

	if _, err := runTool(ctx, argv, filepath.Dir(base), p.cfg.PDFTimeout, nil); err != nil {
		return "", fmt.Errorf("pdf conversion failed: %w", err)
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("pdf converter did not produce %s: %w", output, err)
	}
	return output, nil
}

// book is the assembled view shared by all renderers.
type book struct {
	Title     string
	Chapters  []bookChapter
	Unplaced  []bookImage
	words     int
	images    int
	published time.Time
}

type bookChapter struct {
	Number     int
	Title      string
	Paragraphs []string
	Images     []bookImage
}

type bookImage struct {
	Src     string
	Caption string
	Image   message.Image
}

func newBook(title string, chapters []message.Chapter, images []message.Image, dir string) *book {
	b := &book{Title: title, images: len(images), published: time.Now().UTC()}

	byChapter := make(map[int][]bookImage)
	for _, img := range images {
		bi := bookImage{Src: imageSrc(img, dir), Caption: img.Prompt, Image: img}
		byChapter[img.Chapter] = append(byChapter[img.Chapter], bi)
	}

	placed := make(map[int]bool, len(chapters))
	for _, ch := range chapters {
		b.words += len(strings.Fields(ch.Text))
		b.Chapters = append(b.Chapters, bookChapter{
			Number:     ch.Number,
			Title:      ch.Title,
			Paragraphs: paragraphs(ch.Text),
			Images:     byChapter[ch.Number],
		})
		placed[ch.Number] = true
	}

	for _, img := range images {
		if !placed[img.Chapter] {
			b.Unplaced = append(b.Unplaced, bookImage{Src: imageSrc(img, dir), Caption: img.Prompt, Image: img})
		}
	}
	return b
}

func (b *book) metadata() message.PublicationMetadata {
	return message.PublicationMetadata{
		ChapterCount: len(b.Chapters),
		ImageCount:   b.images,
		PageCount:    EstimatePages(b.words, b.images),
	}
}

// EstimatePages approximates the printed length of a book.
func EstimatePages(words, images int) int {
	return words/wordsPerPage + images + 2
}

var htmlTemplate = template.Must(template.New("book").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 42em; margin: 2em auto; line-height: 1.6; }
h1 { text-align: center; }
figure { margin: 2em 0; text-align: center; }
figure img { max-width: 100%; }
figcaption { font-size: 0.85em; color: #555; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Chapters}}<section class="chapter">
<h2>Chapter {{.Number}}: {{.Title}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{range .Images}}<figure><img src="{{.Src}}" alt="{{.Caption}}"><figcaption>{{.Caption}}</figcaption></figure>
{{end}}</section>
{{end}}{{range .Unplaced}}<figure><img src="{{.Src}}" alt="{{.Caption}}"></figure>
{{end}}</body>
</html>
`))

func (b *book) writeHTML(path string) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, b); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return path, writeFile(path, buf.Bytes())
}

func (b *book) writeMarkdown(path string) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", b.Title)
	for _, ch := range b.Chapters {
		fmt.Fprintf(&buf, "## Chapter %d: %s\n\n", ch.Number, ch.Title)
		for _, para := range ch.Paragraphs {
			fmt.Fprintf(&buf, "%s\n\n", para)
		}
		for _, img := range ch.Images {
			fmt.Fprintf(&buf, "![%s](%s)\n\n", markdownAlt(img.Caption), img.Src)
		}
	}
	for _, img := range b.Unplaced {
		fmt.Fprintf(&buf, "![%s](%s)\n\n", markdownAlt(img.Caption), img.Src)
	}
	return path, writeFile(path, buf.Bytes())
}

// manifest is the JSON edition: the full structured book plus its metadata.
type manifest struct {
	Title       string                      `json:"title"`
	PublishedAt time.Time                   `json:"published_at"`
	Metadata    message.PublicationMetadata `json:"metadata"`
	Chapters    []manifestChapter           `json:"chapters"`
	Images      []message.Image             `json:"images,omitempty"`
	Artifacts   map[string]string           `json:"artifacts,omitempty"`
}

type manifestChapter struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

func (b *book) writeManifest(path string, resp *message.PublicationResponse) (string, error) {
	m := manifest{
		Title:       b.Title,
		PublishedAt: b.published,
		Metadata:    resp.Metadata,
		Artifacts:   resp.Artifacts,
	}
	for _, ch := range b.Chapters {
		m.Chapters = append(m.Chapters, manifestChapter{
			Number: ch.Number,
			Title:  ch.Title,
			Text:   strings.Join(ch.Paragraphs, "\n\n"),
		})
		for _, img := range ch.Images {
			m.Images = append(m.Images, img.Image)
		}
	}
	for _, img := range b.Unplaced {
		m.Images = append(m.Images, img.Image)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return path, writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// imageSrc makes file references relative to the publication directory so the
// output folder can be moved as a whole.
func imageSrc(img message.Image, dir string) string {
	if img.Path == "" {
		return img.URL
	}
	if rel, err := filepath.Rel(dir, img.Path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(img.Path)
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func markdownAlt(s string) string {
	return strings.NewReplacer("[", "(", "]", ")", "\n", " ").Replace(s)
}

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	separators  = regexp.MustCompile(`[-\s]+`)
)

// sanitizeFilename turns a title into a safe file name of at most 50 characters.
func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "")
	name = separators.ReplaceAllString(name, "_")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		return "untitled"
	}
	return name
}
