package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dyluth/quill/pkg/message"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultSender names the sender of injected messages that do not set one.
const DefaultSender = "external"

// SendRequest is the body accepted by POST /send. Only content is required.
// A message injected from outside the system gets the default sender, a
// request type and a correlation id equal to its own id; a request without a
// kind addressed to the handler's own name takes the kind that name serves.
type SendRequest struct {
	MessageID     string          `json:"message_id,omitempty"`
	Sender        string          `json:"sender,omitempty"`
	Recipient     string          `json:"recipient,omitempty"`
	MessageType   message.Type    `json:"message_type,omitempty" binding:"omitempty,oneof=request response error event"`
	Kind          message.Kind    `json:"kind,omitempty"`
	Content       json.RawMessage `json:"content" binding:"required"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	InReplyTo     string          `json:"in_reply_to,omitempty"`
	CreatedAtMs   int64           `json:"created_at_ms,omitempty"`
}

// SendResponse acknowledges an accepted message.
type SendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// NewSendRequest converts a message into its /send body.
func NewSendRequest(msg *message.Message) *SendRequest {
	return &SendRequest{
		MessageID:     msg.ID,
		Sender:        msg.Sender,
		Recipient:     msg.Recipient,
		MessageType:   msg.Type,
		Kind:          msg.Kind,
		Content:       msg.Payload,
		CorrelationID: msg.CorrelationID,
		InReplyTo:     msg.InReplyTo,
		CreatedAtMs:   msg.CreatedAtMs,
	}
}

// ToMessage builds the envelope, filling defaults, and validates both the
// envelope and its payload. requestKind is used for requests to
// defaultRecipient that carry no kind; it may be empty.
func (r *SendRequest) ToMessage(defaultRecipient string, requestKind message.Kind) (*message.Message, error) {
	msg := &message.Message{
		ID:            r.MessageID,
		Sender:        r.Sender,
		Recipient:     r.Recipient,
		Type:          r.MessageType,
		Kind:          r.Kind,
		Payload:       r.Content,
		CorrelationID: r.CorrelationID,
		InReplyTo:     r.InReplyTo,
		CreatedAtMs:   r.CreatedAtMs,
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Sender == "" {
		msg.Sender = DefaultSender
	}
	if msg.Recipient == "" {
		msg.Recipient = defaultRecipient
	}
	if msg.Type == "" {
		msg.Type = message.TypeRequest
	}
	if msg.Kind == "" {
		if msg.Type != message.TypeRequest || msg.Recipient != defaultRecipient || requestKind == "" {
			return nil, fmt.Errorf("kind is required for a %s to %q", msg.Type, msg.Recipient)
		}
		msg.Kind = requestKind
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}
	if msg.CreatedAtMs == 0 {
		msg.CreatedAtMs = time.Now().UnixMilli()
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if _, err := msg.Decode(); err != nil {
		return nil, err
	}
	return msg, nil
}

// localDeliverer is implemented by brokers whose Publish may forward a
// message to another process. Deliver only hands msg to a handler or wait
// in this process.
type localDeliverer interface {
	Deliver(ctx context.Context, msg *message.Message) error
}

// deliver hands an inbound message to b without sending it back out.
func deliver(ctx context.Context, b Broker, msg *message.Message) error {
	if d, ok := b.(localDeliverer); ok {
		return d.Deliver(ctx, msg)
	}
	return b.Publish(ctx, msg)
}

// SendHandler returns the gin handler for POST /send. Accepted messages are
// delivered on b; messages without a recipient go to defaultRecipient, and
// requests to it without a kind are read as requestKind.
func SendHandler(b Broker, defaultRecipient string, requestKind message.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		msg, err := req.ToMessage(defaultRecipient, requestKind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := deliver(c.Request.Context(), b, msg); err != nil {
			status := http.StatusInternalServerError
			if IsDelivery(err) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, SendResponse{Status: "accepted", MessageID: msg.ID})
	}
}
