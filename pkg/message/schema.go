package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Redis key pattern helpers
//
// Every key and Pub/Sub channel is namespaced so several quill deployments can
// share one Redis server.
//
// Key pattern: quill:{namespace}:{entity}:{name}

// AgentChannel returns the Pub/Sub channel a named party listens on.
// Pattern: quill:{namespace}:agent:{name}
func AgentChannel(namespace, name string) string {
	return fmt.Sprintf("quill:%s:agent:%s", namespace, name)
}

// AgentsKey returns the Redis set of registered recipient names.
// Pattern: quill:{namespace}:agents
func AgentsKey(namespace string) string {
	return fmt.Sprintf("quill:%s:agents", namespace)
}

// HistoryKey returns the Redis list holding a workflow's message history.
// Pattern: quill:{namespace}:history:{correlation_id}
func HistoryKey(namespace, correlationID string) string {
	return fmt.Sprintf("quill:%s:history:%s", namespace, correlationID)
}

// NameFromChannel extracts the party name from an agent channel.
// Returns false if the channel does not belong to the namespace.
func NameFromChannel(namespace, channel string) (string, bool) {
	prefix := fmt.Sprintf("quill:%s:agent:", namespace)
	if !strings.HasPrefix(channel, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(channel, prefix)
	return name, name != ""
}

// Marshal encodes a message for the wire after validating it.
func Marshal(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a message from the wire.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &m, nil
}
