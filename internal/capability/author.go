package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/llm"
	"github.com/dyluth/quill/pkg/message"
)

// DefaultScenesPerChapter is how many illustration hints the author suggests per chapter.
const DefaultScenesPerChapter = 2

// Author writes stories. With a TextGenerator it drafts characters, an
// outline, each chapter and its scene hints through the model; without one it
// produces a deterministic draft from the idea alone.
type Author struct {
	gen              llm.TextGenerator
	scenesPerChapter int
}

// NewAuthor returns an author over gen. A nil gen selects the offline drafting path.
func NewAuthor(gen llm.TextGenerator, scenesPerChapter int) *Author {
	if scenesPerChapter <= 0 {
		scenesPerChapter = DefaultScenesPerChapter
	}
	return &Author{gen: gen, scenesPerChapter: scenesPerChapter}
}

func (a *Author) Role() string { return agent.RoleAuthor }

func (a *Author) Handle(ctx context.Context, task *message.Task) (message.Payload, error) {
	req, ok := task.Input.(*message.StoryRequest)
	if !ok {
		return nil, fmt.Errorf("author expects %s input, got %T", message.KindStoryRequest, task.Input)
	}
	idea := req.Idea.WithDefaults()

	if a.gen == nil {
		log.Printf("[INFO] Drafting story offline: correlation_id=%s chapters=%d", task.CorrelationID, idea.Length.Chapters())
		return draftStory(idea, a.scenesPerChapter), nil
	}

	log.Printf("[INFO] Writing story: backend=%s correlation_id=%s chapters=%d",
		a.gen.Name(), task.CorrelationID, idea.Length.Chapters())

	story, err := a.write(ctx, idea)
	if err != nil {
		return nil, &agent.GenerationError{Role: agent.RoleAuthor, Err: err}
	}
	return story, nil
}

// outline is the JSON document the model is asked to return before writing chapters.
type outline struct {
	Title      string              `json:"title"`
	Characters []message.Character `json:"characters"`
	Chapters   []struct {
		Title  string `json:"title"`
		Events string `json:"events"`
	} `json:"chapters"`
}

func (a *Author) write(ctx context.Context, idea message.StoryIdea) (*message.StoryResponse, error) {
	system := fmt.Sprintf("You are a children's book author writing for readers aged %s. "+
		"Keep the language age-appropriate and the story coherent across chapters.", idea.TargetAge)
	n := idea.Length.Chapters()

	raw, err := a.gen.GenerateText(ctx, llm.TextRequest{
		System:      system,
		Prompt:      outlinePrompt(idea, n),
		MaxTokens:   2000,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate outline: %w", err)
	}

	var plan outline
	if err := json.Unmarshal([]byte(extractJSON(raw)), &plan); err != nil {
		return nil, fmt.Errorf("outline is not valid JSON: %w", err)
	}
	if len(plan.Chapters) == 0 {
		return nil, fmt.Errorf("outline contains no chapters")
	}
	if len(plan.Chapters) > n {
		plan.Chapters = plan.Chapters[:n]
	}

	title := idea.Title
	if strings.TrimSpace(plan.Title) != "" {
		title = strings.TrimSpace(plan.Title)
	}

	characters := make([]message.Character, 0, len(plan.Characters))
	for _, c := range plan.Characters {
		if strings.TrimSpace(c.Name) != "" {
			characters = append(characters, c)
		}
	}

	story := &message.StoryResponse{Title: title, Characters: characters}
	var previous string
	for i, ch := range plan.Chapters {
		number := i + 1
		chTitle := strings.TrimSpace(ch.Title)
		if chTitle == "" {
			chTitle = fmt.Sprintf("Chapter %d", number)
		}

		text, err := a.gen.GenerateText(ctx, llm.TextRequest{
			System:      system,
			Prompt:      chapterPrompt(idea, characters, number, len(plan.Chapters), chTitle, ch.Events, previous),
			MaxTokens:   1500,
			Temperature: 0.8,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write chapter %d: %w", number, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("chapter %d came back empty", number)
		}

		scenes, err := a.gen.GenerateText(ctx, llm.TextRequest{
			Prompt:      scenesPrompt(text, a.scenesPerChapter),
			MaxTokens:   400,
			Temperature: 0.5,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to identify scenes in chapter %d: %w", number, err)
		}

		story.Chapters = append(story.Chapters, message.Chapter{
			Number: number,
			Title:  chTitle,
			Text:   text,
			Scenes: parseScenes(scenes, a.scenesPerChapter),
		})
		previous = summarize(text)
	}

	return story, nil
}

func outlinePrompt(idea message.StoryIdea, chapters int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a children's story based on this idea: %s\n", idea.Plot)
	if len(idea.Themes) > 0 {
		fmt.Fprintf(&b, "Themes to explore: %s\n", strings.Join(idea.Themes, ", "))
	}
	fmt.Fprintf(&b, "Create 2-3 main characters and an outline of exactly %d chapters.\n", chapters)
	b.WriteString("Respond with JSON only, in this shape:\n")
	b.WriteString(`{"title": "...", "characters": [{"name": "...", "age": 10, "description": "..."}], ` +
		`"chapters": [{"title": "...", "events": "..."}]}`)
	return b.String()
}

func chapterPrompt(idea message.StoryIdea, characters []message.Character, number, total int, title, events, previous string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write chapter %d of %d, titled %q, for a story about: %s\n", number, total, title, idea.Plot)
	if events != "" {
		fmt.Fprintf(&b, "Key events: %s\n", events)
	}
	if len(characters) > 0 {
		b.WriteString("Characters:\n")
		for _, c := range characters {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		}
	}
	if previous != "" {
		fmt.Fprintf(&b, "Previously: %s\n", previous)
	}
	b.WriteString("Write 500-800 words of engaging narrative with dialogue. Return only the chapter text.")
	return b.String()
}

func scenesPrompt(text string, scenes int) string {
	return fmt.Sprintf("Identify %d key visual scenes in this chapter that would make good illustrations. "+
		"Describe each in one sentence, one per line, with no numbering.\n\n%s", scenes, text)
}

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// extractJSON returns the JSON object inside a model reply, unwrapping code fences.
func extractJSON(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// parseScenes splits a model reply into at most limit scene descriptions.
func parseScenes(s string, limit int) []string {
	var scenes []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(bulletPattern.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		scenes = append(scenes, line)
		if len(scenes) == limit {
			break
		}
	}
	return scenes
}

// summarize keeps the tail of a chapter as context for the next one.
func summarize(text string) string {
	words := strings.Fields(text)
	if len(words) <= 60 {
		return strings.Join(words, " ")
	}
	return "..." + strings.Join(words[len(words)-60:], " ")
}

var draftBeats = []struct {
	title string
	line  string
}{
	{"The Beginning", "It all started on an ordinary day, when %s."},
	{"A Problem Appears", "Soon a problem appeared that nobody expected, and it had everything to do with how %s."},
	{"Trying Again", "The first plan failed, so the friends tried again, remembering how %s."},
	{"Unexpected Help", "Help came from someone nobody had noticed, someone who knew how %s."},
	{"The Hard Part", "Things grew harder before they got easier, because %s."},
	{"A New Idea", "Then a new idea sparked, and suddenly it made sense why %s."},
	{"The Big Moment", "At the big moment everyone held their breath, because %s."},
	{"Home Again", "When it was all over they walked home together, glad that %s."},
}

// draftStory builds a deterministic story from the idea without a model.
func draftStory(idea message.StoryIdea, scenesPerChapter int) *message.StoryResponse {
	plot := strings.TrimSuffix(strings.TrimSpace(idea.Plot), ".")
	lowered := plot
	if r := []rune(plot); len(r) > 0 {
		lowered = strings.ToLower(string(r[:1])) + string(r[1:])
	}

	n := idea.Length.Chapters()
	story := &message.StoryResponse{
		Title: idea.Title,
		Characters: []message.Character{
			{Name: "Sam", Age: 9, Description: "a curious child who asks too many questions"},
			{Name: "Pip", Age: 8, Description: "a loyal friend with a big imagination"},
		},
	}

	for i := 0; i < n; i++ {
		beat := draftBeats[i%len(draftBeats)]
		var text strings.Builder
		fmt.Fprintf(&text, beat.line, lowered)
		text.WriteString(" Sam and Pip looked at each other and knew what they had to do.")
		for _, theme := range idea.Themes {
			fmt.Fprintf(&text, " Along the way they learned something about %s.", theme)
		}

		scenes := make([]string, 0, scenesPerChapter)
		for s := 1; s <= scenesPerChapter; s++ {
			scenes = append(scenes, fmt.Sprintf("Sam and Pip in %q, moment %d: %s", beat.title, s, plot))
		}

		story.Chapters = append(story.Chapters, message.Chapter{
			Number: i + 1,
			Title:  beat.title,
			Text:   text.String(),
			Scenes: scenes,
		})
	}
	return story
}
