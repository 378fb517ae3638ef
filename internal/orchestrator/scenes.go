package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dyluth/quill/pkg/message"
)

// maxSceneDescription caps descriptions taken from chapter text.
const maxSceneDescription = 300

// DeriveScenes turns chapters into the illustration fan-out list. Each chapter
// contributes its author-suggested scenes, at most perChapter of them, or a
// single scene built from its opening when it has none. Scene indexes run
// from zero across the whole story.
func DeriveScenes(chapters []message.Chapter, perChapter int) []message.Scene {
	if perChapter <= 0 {
		perChapter = 1
	}

	var scenes []message.Scene
	for _, ch := range chapters {
		var hints []string
		for _, s := range ch.Scenes {
			if s = strings.TrimSpace(s); s != "" {
				hints = append(hints, s)
			}
			if len(hints) == perChapter {
				break
			}
		}
		if len(hints) == 0 {
			hints = []string{fallbackScene(ch)}
		}

		for i, desc := range hints {
			scenes = append(scenes, message.Scene{
				Index:       len(scenes),
				ID:          fmt.Sprintf("ch%d_scene%d", ch.Number, i+1),
				Chapter:     ch.Number,
				Description: desc,
			})
		}
	}
	return scenes
}

// fallbackScene describes a chapter from its first sentence, or its title.
func fallbackScene(ch message.Chapter) string {
	text := strings.Join(strings.Fields(ch.Text), " ")
	if end := strings.IndexAny(text, ".!?"); end >= 0 {
		text = text[:end+1]
	}
	if utf8.RuneCountInString(text) > maxSceneDescription {
		text = string([]rune(text)[:maxSceneDescription])
	}
	if text != "" {
		return text
	}
	if t := strings.TrimSpace(ch.Title); t != "" {
		return t
	}
	return fmt.Sprintf("Chapter %d", ch.Number)
}
