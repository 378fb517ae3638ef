package broker

import (
	"context"
	"time"

	"github.com/dyluth/quill/pkg/message"
)

// Handler processes a message delivered to a subscribed name.
// Handlers run on the delivering goroutine and must not block on long work;
// returning an error reports a delivery failure to the publisher.
type Handler func(ctx context.Context, msg *message.Message) error

// Broker delivers messages to named recipients and correlates replies.
type Broker interface {
	// Publish enqueues msg for msg.Recipient without waiting for it to be processed.
	Publish(ctx context.Context, msg *message.Message) error

	// Subscribe registers the single handler for a name.
	Subscribe(name string, handler Handler) error

	// Unsubscribe removes the handler for a name.
	Unsubscribe(name string) error

	// Request publishes msg and waits for the terminal message answering it.
	// A timeout <= 0 waits until ctx is done.
	Request(ctx context.Context, msg *message.Message, timeout time.Duration) (*message.Message, error)

	// Close releases broker resources and fails all pending waits.
	Close() error
}

// Pinger is implemented by brokers backed by a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures a broker.
type Option func(*router)

// WithDefaultRoute delivers messages for unknown recipients to the named route.
func WithDefaultRoute(name string) Option {
	return func(r *router) {
		r.defaultRoute = name
	}
}

// WithDedupeWindow sets how many recently dispatched message ids are remembered.
func WithDedupeWindow(size int) Option {
	return func(r *router) {
		if size > 0 {
			r.seen = newIDWindow(size)
		}
	}
}
