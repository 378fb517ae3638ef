package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope carrying a typed payload between two named parties.
// Messages are treated as immutable once built; brokers hand out clones so no
// two components ever share the same instance.
type Message struct {
	ID            string          `json:"id"`                    // UUID - unique within a run
	Sender        string          `json:"sender"`                // Logical name of the producing party
	Recipient     string          `json:"recipient"`             // Logical name of the addressed party
	Type          Type            `json:"type"`                  // request, response, error or event
	Kind          Kind            `json:"kind"`                  // Payload variant tag
	Payload       json.RawMessage `json:"payload"`               // JSON encoding of the payload variant
	CorrelationID string          `json:"correlation_id"`        // Groups a workflow's requests and replies
	InReplyTo     string          `json:"in_reply_to,omitempty"` // Request ID answered by a response or error
	CreatedAtMs   int64           `json:"created_at_ms"`         // Unix timestamp in milliseconds
}

// Type classifies a message's role in the request/response protocol.
type Type string

const (
	// TypeRequest asks the recipient to perform work
	TypeRequest Type = "request"

	// TypeResponse carries the successful result of a request
	TypeResponse Type = "response"

	// TypeError reports that a request could not be fulfilled
	TypeError Type = "error"

	// TypeEvent is a fire-and-forget notification
	TypeEvent Type = "event"
)

// Validate checks if the Type is a valid enum value.
func (t Type) Validate() error {
	switch t {
	case TypeRequest, TypeResponse, TypeError, TypeEvent:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", t)
	}
}

// Phase names one of the three sequential workflow stages.
type Phase string

const (
	PhaseStoryCreation Phase = "story_creation"
	PhaseIllustration  Phase = "illustration"
	PhasePublication   Phase = "publication"
)

// Validate checks if the Phase is a valid enum value.
func (p Phase) Validate() error {
	switch p {
	case PhaseStoryCreation, PhaseIllustration, PhasePublication:
		return nil
	default:
		return fmt.Errorf("unknown phase: %q", p)
	}
}

// Task is the unit of work handed to a capability. The orchestrator creates
// one per phase request (one per scene during illustration); agent services
// rebuild it from the inbound request message.
type Task struct {
	CorrelationID string    `json:"correlation_id"`
	RequestID     string    `json:"request_id"`
	Phase         Phase     `json:"phase"`
	Input         Payload   `json:"input"`
	Attempt       int       `json:"attempt"`
	Deadline      time.Time `json:"deadline,omitempty"`
}

// NewRequest builds a request message for the given payload.
// The payload is validated before it is encoded.
func NewRequest(sender, recipient, correlationID string, p Payload) (*Message, error) {
	return build(sender, recipient, TypeRequest, correlationID, "", p)
}

// NewReply builds the response to a request. Sender and recipient are swapped
// and the correlation id is carried over.
func NewReply(req *Message, p Payload) (*Message, error) {
	return build(req.Recipient, req.Sender, TypeResponse, req.CorrelationID, req.ID, p)
}

// NewError builds the error message answering a request.
func NewError(req *Message, p *ErrorPayload) (*Message, error) {
	return build(req.Recipient, req.Sender, TypeError, req.CorrelationID, req.ID, p)
}

// NewEvent builds a fire-and-forget event message.
func NewEvent(sender, recipient, correlationID string, p Payload) (*Message, error) {
	return build(sender, recipient, TypeEvent, correlationID, "", p)
}

func build(sender, recipient string, t Type, correlationID, inReplyTo string, p Payload) (*Message, error) {
	if p == nil {
		return nil, fmt.Errorf("payload cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.Kind(), err)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}

	id := uuid.New().String()
	if correlationID == "" {
		correlationID = id
	}

	msg := &Message{
		ID:            id,
		Sender:        sender,
		Recipient:     recipient,
		Type:          t,
		Kind:          p.Kind(),
		Payload:       raw,
		CorrelationID: correlationID,
		InReplyTo:     inReplyTo,
		CreatedAtMs:   time.Now().UnixMilli(),
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks if the Message has valid field values.
// It does not decode the payload; use Decode for schema validation.
func (m *Message) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid message ID: not a valid UUID")
	}

	if m.Sender == "" {
		return fmt.Errorf("sender cannot be empty")
	}

	if m.Recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	if err := m.Type.Validate(); err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}

	if err := m.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}

	if m.CorrelationID == "" {
		return fmt.Errorf("correlation_id cannot be empty")
	}

	if m.IsTerminal() && m.InReplyTo == "" {
		return fmt.Errorf("%s message must reference the request it answers", m.Type)
	}

	return nil
}

// IsTerminal reports whether the message ends the wait for a request.
func (m *Message) IsTerminal() bool {
	return m.Type == TypeResponse || m.Type == TypeError
}

// Decode unmarshals the payload into its tagged variant and validates it.
func (m *Message) Decode() (Payload, error) {
	if len(m.Payload) == 0 {
		if err := m.Kind.Validate(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s message %s has an empty payload", m.Kind, m.ID)
	}
	return DecodePayload(m.Kind, m.Payload)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	return &c
}

// CreatedAt returns the creation time as a time.Time.
func (m *Message) CreatedAt() time.Time {
	return time.UnixMilli(m.CreatedAtMs)
}

// String returns a compact description for log lines.
func (m *Message) String() string {
	return fmt.Sprintf("%s %s %s->%s (id=%s correlation=%s)",
		m.Type, m.Kind, m.Sender, m.Recipient, m.ID, m.CorrelationID)
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
