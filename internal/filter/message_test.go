package filter

import (
	"testing"

	"github.com/dyluth/quill/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(sender, recipient string, kind message.Kind, at int64) *message.Message {
	return &message.Message{Sender: sender, Recipient: recipient, Kind: kind, CreatedAtMs: at}
}

func TestCriteria_Matches(t *testing.T) {
	m := msg("orchestrator", "illustrator", message.KindIllustrationRequest, 2000)

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"no filters", Criteria{}, true},
		{"since before", Criteria{SinceTimestampMs: 1000}, true},
		{"since after", Criteria{SinceTimestampMs: 3000}, false},
		{"until after", Criteria{UntilTimestampMs: 3000}, true},
		{"until before", Criteria{UntilTimestampMs: 1000}, false},
		{"kind glob", Criteria{KindGlob: "illustration_*"}, true},
		{"kind glob miss", Criteria{KindGlob: "story_*"}, false},
		{"agent as recipient", Criteria{Agent: "illustrator"}, true},
		{"agent as sender", Criteria{Agent: "orchestrator"}, true},
		{"other agent", Criteria{Agent: "author"}, false},
		{"all criteria", Criteria{SinceTimestampMs: 1000, UntilTimestampMs: 3000, KindGlob: "*_request", Agent: "illustrator"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(m))
		})
	}
}

func TestCriteria_Apply(t *testing.T) {
	msgs := []*message.Message{
		msg("orchestrator", "author", message.KindStoryRequest, 1),
		msg("author", "orchestrator", message.KindStoryResponse, 2),
		msg("orchestrator", "illustrator", message.KindIllustrationRequest, 3),
	}

	all := (&Criteria{}).Apply(msgs)
	assert.Len(t, all, 3)

	got := (&Criteria{Agent: "author"}).Apply(msgs)
	require.Len(t, got, 2)
	assert.Equal(t, message.KindStoryRequest, got[0].Kind)
	assert.Equal(t, message.KindStoryResponse, got[1].Kind)
}

func TestCriteria_Validate(t *testing.T) {
	assert.NoError(t, (&Criteria{}).Validate())
	assert.NoError(t, (&Criteria{KindGlob: "story_*"}).Validate())
	assert.Error(t, (&Criteria{KindGlob: "[story"}).Validate())
}
