package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/quill/pkg/message"
)

// MemoryBroker delivers messages within one process. Publish dispatches on
// the caller's goroutine, so handlers must hand work off rather than run it.
type MemoryBroker struct {
	r *router
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(opts ...Option) *MemoryBroker {
	return &MemoryBroker{r: newRouter(opts...)}
}

// Publish validates msg and dispatches a copy of it.
func (b *MemoryBroker) Publish(ctx context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return b.r.dispatch(ctx, msg)
}

// Subscribe registers the handler for name.
func (b *MemoryBroker) Subscribe(name string, handler Handler) error {
	return b.r.subscribe(name, handler)
}

// Unsubscribe removes the handler for name.
func (b *MemoryBroker) Unsubscribe(name string) error {
	return b.r.unsubscribe(name)
}

// Request publishes msg and waits for its reply.
func (b *MemoryBroker) Request(ctx context.Context, msg *message.Message, timeout time.Duration) (*message.Message, error) {
	return b.r.request(ctx, msg, timeout, b.Publish)
}

// Close fails pending waits and drops all handlers.
func (b *MemoryBroker) Close() error {
	b.r.close()
	return nil
}
