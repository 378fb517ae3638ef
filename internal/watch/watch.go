package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dyluth/quill/internal/orchestrator"
)

// ErrNotFound is returned when the orchestrator does not know the workflow.
var ErrNotFound = errors.New("workflow not found")

// Client reads workflow state from an orchestrator's HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for the orchestrator served at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches GET /stories/{id}/status.
func (c *Client) Status(ctx context.Context, correlationID string) (orchestrator.TaskStatus, error) {
	var st orchestrator.TaskStatus
	err := c.get(ctx, "/stories/"+correlationID+"/status", &st)
	return st, err
}

// Result fetches GET /stories/{id}.
func (c *Client) Result(ctx context.Context, correlationID string) (*orchestrator.WorkflowResult, error) {
	var result orchestrator.WorkflowResult
	if err := c.get(ctx, "/stories/"+correlationID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach orchestrator: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("orchestrator returned %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// PollStatus polls a workflow until it reaches a final state, calling
// onChange whenever its state or pending request count changes.
// A workflow the orchestrator does not know yet is polled again.
func PollStatus(ctx context.Context, client *Client, correlationID string, interval, timeout time.Duration,
	onChange func(orchestrator.TaskStatus)) (orchestrator.TaskStatus, error) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	var last orchestrator.TaskStatus
	seen := false

	for {
		st, err := client.Status(ctx, correlationID)
		switch {
		case errors.Is(err, ErrNotFound):
			// Not registered yet, continue polling
		case err != nil:
			return last, err
		default:
			if !seen || st.State != last.State || st.Pending != last.Pending {
				seen = true
				last = st
				if onChange != nil {
					onChange(st)
				}
			}
			if st.State.IsFinal() {
				return st, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timeoutCh:
			return last, fmt.Errorf("timeout waiting for workflow %s after %v", correlationID, timeout)
		case <-ticker.C:
		}
	}
}
