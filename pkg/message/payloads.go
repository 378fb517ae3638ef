package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags the payload variant carried by a message.
type Kind string

const (
	KindStoryRequest         Kind = "story_request"
	KindStoryResponse        Kind = "story_response"
	KindIllustrationRequest  Kind = "illustration_request"
	KindIllustrationResponse Kind = "illustration_response"
	KindPublicationRequest   Kind = "publication_request"
	KindPublicationResponse  Kind = "publication_response"
	KindError                Kind = "error"
	KindStatusEvent          Kind = "status_event"
)

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	_, err := newPayload(k)
	return err
}

// Payload is implemented by every tagged payload variant.
type Payload interface {
	Kind() Kind
	Validate() error
}

// newPayload returns an empty variant for a kind, ready for unmarshaling.
func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindStoryRequest:
		return &StoryRequest{}, nil
	case KindStoryResponse:
		return &StoryResponse{}, nil
	case KindIllustrationRequest:
		return &IllustrationRequest{}, nil
	case KindIllustrationResponse:
		return &IllustrationResponse{}, nil
	case KindPublicationRequest:
		return &PublicationRequest{}, nil
	case KindPublicationResponse:
		return &PublicationResponse{}, nil
	case KindError:
		return &ErrorPayload{}, nil
	case KindStatusEvent:
		return &StatusEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind: %q", k)
	}
}

// DecodePayload unmarshals raw JSON into the variant named by kind and
// validates it.
func DecodePayload(k Kind, raw []byte) (Payload, error) {
	p, err := newPayload(k)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty %s payload", k)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", k, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", k, err)
	}
	return p, nil
}

// PhaseOf maps a request or response kind to the workflow phase it belongs to.
func PhaseOf(k Kind) (Phase, bool) {
	switch k {
	case KindStoryRequest, KindStoryResponse:
		return PhaseStoryCreation, true
	case KindIllustrationRequest, KindIllustrationResponse:
		return PhaseIllustration, true
	case KindPublicationRequest, KindPublicationResponse:
		return PhasePublication, true
	default:
		return "", false
	}
}

// Length controls how many chapters the author writes.
type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// Chapters returns the number of chapters written for a story length.
func (l Length) Chapters() int {
	switch l {
	case LengthMedium:
		return 5
	case LengthLong:
		return 8
	default:
		return 3
	}
}

// Validate checks if the Length is a valid enum value.
func (l Length) Validate() error {
	switch l {
	case LengthShort, LengthMedium, LengthLong:
		return nil
	default:
		return fmt.Errorf("unknown length: %q (expected short, medium or long)", l)
	}
}

// Defaults applied to story ideas that leave optional fields empty.
const (
	DefaultTargetAge = "8-12"
	DefaultLength    = LengthShort
	DefaultArtStyle  = "children_book"
)

// StoryIdea is the user's top-level input to a workflow.
type StoryIdea struct {
	Plot      string   `json:"plot"`
	Themes    []string `json:"themes,omitempty"`
	TargetAge string   `json:"target_age,omitempty"`
	Length    Length   `json:"length,omitempty"`
	ArtStyle  string   `json:"art_style,omitempty"`
	Title     string   `json:"title,omitempty"`
}

// WithDefaults returns a copy of the idea with empty optional fields filled in.
func (s StoryIdea) WithDefaults() StoryIdea {
	if s.TargetAge == "" {
		s.TargetAge = DefaultTargetAge
	}
	if s.Length == "" {
		s.Length = DefaultLength
	}
	if s.ArtStyle == "" {
		s.ArtStyle = DefaultArtStyle
	}
	if s.Title == "" {
		s.Title = truncateTitle(s.Plot)
	}
	return s
}

// Validate checks that the required fields of the idea are present.
func (s StoryIdea) Validate() error {
	if strings.TrimSpace(s.Plot) == "" {
		return fmt.Errorf("plot is required and cannot be empty")
	}

	if s.Length != "" {
		if err := s.Length.Validate(); err != nil {
			return err
		}
	}

	for i, theme := range s.Themes {
		if strings.TrimSpace(theme) == "" {
			return fmt.Errorf("theme at index %d is empty", i)
		}
	}

	return nil
}

// truncateTitle derives a title from a plot, capped at 50 characters.
func truncateTitle(plot string) string {
	plot = strings.TrimSpace(plot)
	runes := []rune(plot)
	if len(runes) > 50 {
		return strings.TrimSpace(string(runes[:50]))
	}
	return plot
}

// StoryRequest asks the author to write a story.
type StoryRequest struct {
	Idea StoryIdea `json:"idea"`
}

func (*StoryRequest) Kind() Kind { return KindStoryRequest }

func (r *StoryRequest) Validate() error {
	return r.Idea.Validate()
}

// Chapter is one numbered chapter of a story.
// Scenes optionally carries the author's suggestions for illustration.
type Chapter struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Text   string   `json:"text"`
	Scenes []string `json:"scenes,omitempty"`
}

// Character describes a recurring character, used to keep illustrations consistent.
type Character struct {
	Name        string `json:"name"`
	Age         int    `json:"age,omitempty"`
	Description string `json:"description,omitempty"`
}

// StoryResponse carries the author's chapters and characters.
type StoryResponse struct {
	Title      string      `json:"title,omitempty"`
	Chapters   []Chapter   `json:"chapters"`
	Characters []Character `json:"characters,omitempty"`
}

func (*StoryResponse) Kind() Kind { return KindStoryResponse }

func (r *StoryResponse) Validate() error {
	if len(r.Chapters) == 0 {
		return fmt.Errorf("story must contain at least one chapter")
	}

	seen := make(map[int]bool, len(r.Chapters))
	for i, ch := range r.Chapters {
		if ch.Number < 1 {
			return fmt.Errorf("chapter at index %d: number must be >= 1, got %d", i, ch.Number)
		}
		if seen[ch.Number] {
			return fmt.Errorf("chapter at index %d: duplicate chapter number %d", i, ch.Number)
		}
		seen[ch.Number] = true
	}

	for i, c := range r.Characters {
		if c.Name == "" {
			return fmt.Errorf("character at index %d: name cannot be empty", i)
		}
	}

	return nil
}

// Scene is one illustration target derived from a chapter.
// Index is the position of the scene in the workflow's scene list and is the
// key used to re-associate fan-out results.
type Scene struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Chapter     int    `json:"chapter"`
	Description string `json:"description"`
	Mood        string `json:"mood,omitempty"`
}

// IllustrationRequest asks the illustrator to draw one scene.
type IllustrationRequest struct {
	Scene      Scene       `json:"scene"`
	Style      string      `json:"style"`
	Characters []Character `json:"characters,omitempty"`
}

func (*IllustrationRequest) Kind() Kind { return KindIllustrationRequest }

func (r *IllustrationRequest) Validate() error {
	if r.Scene.Index < 0 {
		return fmt.Errorf("scene index must be >= 0, got %d", r.Scene.Index)
	}
	if strings.TrimSpace(r.Scene.Description) == "" {
		return fmt.Errorf("scene description cannot be empty")
	}
	return nil
}

// Image references a generated illustration. Path points at a file written by
// the illustrator; URL is set when the backend hosts the image remotely.
type Image struct {
	SceneIndex int    `json:"scene_index"`
	SceneID    string `json:"scene_id,omitempty"`
	Chapter    int    `json:"chapter,omitempty"`
	Path       string `json:"path,omitempty"`
	URL        string `json:"url,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

// Ref returns the best available reference to the image.
func (i Image) Ref() string {
	if i.Path != "" {
		return i.Path
	}
	return i.URL
}

// IllustrationResponse carries the image for exactly one scene.
type IllustrationResponse struct {
	SceneIndex int   `json:"scene_index"`
	Image      Image `json:"image"`
}

func (*IllustrationResponse) Kind() Kind { return KindIllustrationResponse }

func (r *IllustrationResponse) Validate() error {
	if r.SceneIndex < 0 {
		return fmt.Errorf("scene index must be >= 0, got %d", r.SceneIndex)
	}
	if r.Image.Ref() == "" {
		return fmt.Errorf("image must have a path or url")
	}
	if r.Image.SceneIndex != r.SceneIndex {
		return fmt.Errorf("image scene index %d does not match response scene index %d",
			r.Image.SceneIndex, r.SceneIndex)
	}
	return nil
}

// PublicationRequest bundles text and images for the publisher.
// Images are ordered by scene index.
type PublicationRequest struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
	Images   []Image   `json:"images"`
	Formats  []string  `json:"formats,omitempty"`
}

func (*PublicationRequest) Kind() Kind { return KindPublicationRequest }

func (r *PublicationRequest) Validate() error {
	if len(r.Chapters) == 0 {
		return fmt.Errorf("publication requires at least one chapter")
	}
	for i, img := range r.Images {
		if img.Ref() == "" {
			return fmt.Errorf("image at index %d has no path or url", i)
		}
	}
	return nil
}

// PublicationMetadata summarises an assembled publication.
type PublicationMetadata struct {
	ChapterCount int `json:"chapter_count"`
	ImageCount   int `json:"image_count"`
	PageCount    int `json:"page_count"`
}

// PublicationResponse lists the produced artifacts keyed by format.
type PublicationResponse struct {
	Artifacts map[string]string   `json:"artifacts"`
	Metadata  PublicationMetadata `json:"metadata"`
}

func (*PublicationResponse) Kind() Kind { return KindPublicationResponse }

func (r *PublicationResponse) Validate() error {
	if len(r.Artifacts) == 0 {
		return fmt.Errorf("publication must produce at least one artifact")
	}
	for format, path := range r.Artifacts {
		if path == "" {
			return fmt.Errorf("artifact %q has an empty path", format)
		}
	}
	return nil
}

// ErrorCode classifies a failure reported in an error message.
type ErrorCode string

const (
	ErrorCodeGeneration     ErrorCode = "generation_failed"
	ErrorCodeAssembly       ErrorCode = "assembly_failed"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
	ErrorCodeInternal       ErrorCode = "internal"
)

// ErrorPayload describes why a request failed.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Phase   Phase     `json:"phase,omitempty"`
	Message string    `json:"message"`
}

func (*ErrorPayload) Kind() Kind { return KindError }

func (e *ErrorPayload) Validate() error {
	switch e.Code {
	case ErrorCodeGeneration, ErrorCodeAssembly, ErrorCodeInvalidRequest, ErrorCodeInternal:
	default:
		return fmt.Errorf("unknown error code: %q", e.Code)
	}
	if e.Message == "" {
		return fmt.Errorf("error message cannot be empty")
	}
	return nil
}

// Error implements the error interface so a decoded payload can be wrapped directly.
func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusEvent announces an agent state change to a watcher.
type StatusEvent struct {
	Agent string `json:"agent"`
	State string `json:"state"`
}

func (*StatusEvent) Kind() Kind { return KindStatusEvent }

func (e *StatusEvent) Validate() error {
	if e.Agent == "" {
		return fmt.Errorf("agent cannot be empty")
	}
	if e.State == "" {
		return fmt.Errorf("state cannot be empty")
	}
	return nil
}
