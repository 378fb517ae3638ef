package orchestrator

import (
	"strings"
	"testing"

	"github.com/dyluth/quill/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveScenes(t *testing.T) {
	chapters := []message.Chapter{
		{Number: 1, Title: "Fog", Text: "x", Scenes: []string{"Ada climbs", " ", "The lamp flickers", "ignored"}},
		{Number: 2, Title: "Song", Text: "The whale sang! Everyone listened."},
		{Number: 3, Title: "Dawn"},
	}

	scenes := DeriveScenes(chapters, 2)
	require.Len(t, scenes, 4)

	assert.Equal(t, message.Scene{Index: 0, ID: "ch1_scene1", Chapter: 1, Description: "Ada climbs"}, scenes[0])
	assert.Equal(t, message.Scene{Index: 1, ID: "ch1_scene2", Chapter: 1, Description: "The lamp flickers"}, scenes[1])
	assert.Equal(t, message.Scene{Index: 2, ID: "ch2_scene1", Chapter: 2, Description: "The whale sang!"}, scenes[2])
	assert.Equal(t, message.Scene{Index: 3, ID: "ch3_scene1", Chapter: 3, Description: "Dawn"}, scenes[3])
}

func TestDeriveScenes_DefaultsToOnePerChapter(t *testing.T) {
	chapters := []message.Chapter{{Number: 1, Scenes: []string{"a", "b"}}}
	scenes := DeriveScenes(chapters, 0)
	require.Len(t, scenes, 1)
	assert.Equal(t, "a", scenes[0].Description)
}

func TestFallbackScene(t *testing.T) {
	long := strings.Repeat("word ", 200)
	desc := fallbackScene(message.Chapter{Number: 4, Text: long})
	assert.Len(t, []rune(desc), maxSceneDescription)

	assert.Equal(t, "Chapter 9", fallbackScene(message.Chapter{Number: 9}))
	assert.Equal(t, "It rained.", fallbackScene(message.Chapter{Text: "It   rained.\nThen it stopped."}))
}
