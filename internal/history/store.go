// Package history keeps the append-only message log of each workflow.
//
// Entries are grouped by correlation id and returned in arrival order. The
// memory store serves single-process runs; the Redis and SQL stores survive
// restarts and can be read by the CLI after a workflow has finished.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/quill/pkg/message"
)

// Store is an append-only log of messages keyed by correlation id.
// Implementations are safe for concurrent use.
type Store interface {
	Append(ctx context.Context, msg *message.Message) error
	List(ctx context.Context, correlationID string) ([]*message.Message, error)
	Close() error
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*message.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]*message.Message)}
}

// Append records a copy of msg under its correlation id.
func (s *MemoryStore) Append(_ context.Context, msg *message.Message) error {
	if msg == nil || msg.CorrelationID == "" {
		return fmt.Errorf("message must carry a correlation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[msg.CorrelationID] = append(s.entries[msg.CorrelationID], msg.Clone())
	return nil
}

// List returns copies of the messages recorded for correlationID.
// An unknown id yields an empty slice.
func (s *MemoryStore) List(_ context.Context, correlationID string) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[correlationID]
	out := make([]*message.Message, len(stored))
	for i, m := range stored {
		out[i] = m.Clone()
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
