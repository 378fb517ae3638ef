package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadySubscribed is returned when a name already has a handler.
	ErrAlreadySubscribed = errors.New("name already subscribed")

	// ErrNotSubscribed is returned when unsubscribing a name without a handler.
	ErrNotSubscribed = errors.New("name not subscribed")

	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker closed")

	// ErrDuplicateResponse marks a second terminal message for a wait that
	// already received one. It is logged, never returned to callers.
	ErrDuplicateResponse = errors.New("duplicate response")
)

// DeliveryError reports that a message could not be handed to its recipient.
type DeliveryError struct {
	Recipient string
	MessageID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver message %s to %q: %v", e.MessageID, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that no terminal message arrived for a request in time.
type TimeoutError struct {
	RequestID     string
	CorrelationID string
	Recipient     string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %q to answer request %s (correlation %s)",
		e.Timeout, e.Recipient, e.RequestID, e.CorrelationID)
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsDelivery reports whether err is or wraps a DeliveryError.
func IsDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

var errUnknownRecipient = errors.New("unknown recipient and no default route")
