package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIdea() StoryIdea {
	return StoryIdea{Plot: "A fox learns to share", Themes: []string{"friendship"}}
}

// TestNewRequest_DefaultsCorrelationID tests that a request without a correlation id uses its own id
func TestNewRequest_DefaultsCorrelationID(t *testing.T) {
	msg, err := NewRequest("orchestrator", "author", "", &StoryRequest{Idea: validIdea()})
	require.NoError(t, err)

	assert.Equal(t, msg.ID, msg.CorrelationID)
	assert.Equal(t, TypeRequest, msg.Type)
	assert.Equal(t, KindStoryRequest, msg.Kind)
	assert.Empty(t, msg.InReplyTo)
	assert.NotZero(t, msg.CreatedAtMs)
}

// TestNewRequest_InvalidPayload tests that payload validation runs before encoding
func TestNewRequest_InvalidPayload(t *testing.T) {
	_, err := NewRequest("orchestrator", "author", "", &StoryRequest{Idea: StoryIdea{Plot: "   "}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plot is required")

	_, err = NewRequest("orchestrator", "author", "", nil)
	require.Error(t, err)
}

// TestNewReply_PreservesCorrelation tests that replies swap parties and keep the correlation id
func TestNewReply_PreservesCorrelation(t *testing.T) {
	cid := uuid.New().String()
	req, err := NewRequest("orchestrator", "author", cid, &StoryRequest{Idea: validIdea()})
	require.NoError(t, err)

	reply, err := NewReply(req, &StoryResponse{Chapters: []Chapter{{Number: 1, Title: "One", Text: "text"}}})
	require.NoError(t, err)

	assert.Equal(t, "author", reply.Sender)
	assert.Equal(t, "orchestrator", reply.Recipient)
	assert.Equal(t, cid, reply.CorrelationID)
	assert.Equal(t, req.ID, reply.InReplyTo)
	assert.NotEqual(t, req.ID, reply.ID)
	assert.True(t, reply.IsTerminal())
	assert.False(t, req.IsTerminal())
}

// TestNewError_CarriesPayload tests that error messages answer the request and decode back
func TestNewError_CarriesPayload(t *testing.T) {
	req, err := NewRequest("orchestrator", "illustrator", "", &IllustrationRequest{
		Scene: Scene{Index: 0, ID: "ch1_scene1", Chapter: 1, Description: "a fox"},
		Style: "cartoon",
	})
	require.NoError(t, err)

	errMsg, err := NewError(req, &ErrorPayload{Code: ErrorCodeGeneration, Phase: PhaseIllustration, Message: "model offline"})
	require.NoError(t, err)
	assert.Equal(t, TypeError, errMsg.Type)
	assert.Equal(t, req.ID, errMsg.InReplyTo)

	p, err := errMsg.Decode()
	require.NoError(t, err)
	ep, ok := p.(*ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, PhaseIllustration, ep.Phase)
	assert.Equal(t, "generation_failed: model offline", ep.Error())
}

// TestMessageValidate tests envelope validation failures
func TestMessageValidate(t *testing.T) {
	base, err := NewRequest("orchestrator", "author", "", &StoryRequest{Idea: validIdea()})
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(m *Message)
		wantErr string
	}{
		{"bad id", func(m *Message) { m.ID = "nope" }, "invalid message ID"},
		{"no sender", func(m *Message) { m.Sender = "" }, "sender cannot be empty"},
		{"no recipient", func(m *Message) { m.Recipient = "" }, "recipient cannot be empty"},
		{"bad type", func(m *Message) { m.Type = "shout" }, "invalid type"},
		{"bad kind", func(m *Message) { m.Kind = "poem" }, "invalid kind"},
		{"no correlation", func(m *Message) { m.CorrelationID = "" }, "correlation_id cannot be empty"},
		{"response without in_reply_to", func(m *Message) { m.Type = TypeResponse }, "must reference the request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base.Clone()
			tt.mutate(m)
			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestDecode_RejectsMalformedPayload tests that schema violations surface at decode time
func TestDecode_RejectsMalformedPayload(t *testing.T) {
	msg, err := NewRequest("orchestrator", "author", "", &StoryRequest{Idea: validIdea()})
	require.NoError(t, err)

	msg.Payload = json.RawMessage(`{"idea":{"plot":""}}`)
	_, err = msg.Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid story_request payload")

	msg.Payload = json.RawMessage(`not json`)
	_, err = msg.Decode()
	require.Error(t, err)

	msg.Payload = nil
	_, err = msg.Decode()
	require.Error(t, err)
}

// TestClone_IsDeep tests that mutating a clone leaves the original untouched
func TestClone_IsDeep(t *testing.T) {
	msg, err := NewRequest("orchestrator", "author", "", &StoryRequest{Idea: validIdea()})
	require.NoError(t, err)

	c := msg.Clone()
	c.Payload[0] = 'X'
	c.Sender = "someone-else"

	assert.Equal(t, byte('{'), msg.Payload[0])
	assert.Equal(t, "orchestrator", msg.Sender)
	assert.Nil(t, (*Message)(nil).Clone())
}

// TestMessageString tests the log representation
func TestMessageString(t *testing.T) {
	msg, err := NewRequest("orchestrator", "author", "", &StoryRequest{Idea: validIdea()})
	require.NoError(t, err)

	s := msg.String()
	assert.True(t, strings.HasPrefix(s, "request story_request orchestrator->author"))
	assert.Contains(t, s, msg.ID)
}
