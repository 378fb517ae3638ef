package filter

import (
	"path/filepath"

	"github.com/dyluth/quill/pkg/message"
)

// Criteria defines filtering criteria for history messages.
// All filters are ANDed together - a message must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	KindGlob         string // Glob pattern for the payload kind, empty = no filter
	Agent            string // Exact match on sender or recipient, empty = no filter
}

// Matches reports whether msg passes every criterion.
func (c *Criteria) Matches(msg *message.Message) bool {
	if c.SinceTimestampMs > 0 && msg.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && msg.CreatedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.KindGlob != "" {
		matched, err := filepath.Match(c.KindGlob, string(msg.Kind))
		if err != nil || !matched {
			return false
		}
	}

	if c.Agent != "" && msg.Sender != c.Agent && msg.Recipient != c.Agent {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.KindGlob != "" ||
		c.Agent != ""
}

// Validate rejects a malformed kind pattern before any message is read.
func (c *Criteria) Validate() error {
	if c.KindGlob == "" {
		return nil
	}
	_, err := filepath.Match(c.KindGlob, "")
	return err
}

// Apply returns the messages that match, preserving order.
func (c *Criteria) Apply(msgs []*message.Message) []*message.Message {
	if !c.HasFilters() {
		return msgs
	}
	out := make([]*message.Message, 0, len(msgs))
	for _, m := range msgs {
		if c.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}
