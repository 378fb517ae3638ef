package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/pkg/message"
)

// responseKinds maps each well-known role to the payload kind its tool must emit.
var responseKinds = map[string]message.Kind{
	agent.RoleAuthor:      message.KindStoryResponse,
	agent.RoleIllustrator: message.KindIllustrationResponse,
	agent.RolePublisher:   message.KindPublicationResponse,
}

// ToolInput is the JSON document written to an external tool's stdin.
type ToolInput struct {
	Role          string          `json:"role"`
	CorrelationID string          `json:"correlation_id"`
	RequestID     string          `json:"request_id"`
	Phase         message.Phase   `json:"phase"`
	Kind          message.Kind    `json:"kind"`
	Attempt       int             `json:"attempt"`
	Input         message.Payload `json:"input"`
}

// ToolOutput is the JSON document an external tool writes to stdout.
// Kind may be omitted when the role implies it.
type ToolOutput struct {
	Kind    message.Kind    `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks that the tool produced a payload of the expected kind.
func (o *ToolOutput) Validate(expected message.Kind) error {
	if len(o.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if o.Kind != "" && o.Kind != expected {
		return fmt.Errorf("expected kind %s, tool produced %s", expected, o.Kind)
	}
	return nil
}

// CommandConfig describes an external tool serving one role.
type CommandConfig struct {
	Role    string
	Command []string
	Dir     string
	Timeout time.Duration
}

// Command runs any role as an external process: the Task is written to stdin
// as JSON and the response payload is read from stdout.
type Command struct {
	cfg  CommandConfig
	kind message.Kind
}

// NewCommand validates cfg and returns the capability.
func NewCommand(cfg CommandConfig) (*Command, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("command for role %q cannot be empty", cfg.Role)
	}
	kind, ok := responseKinds[cfg.Role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q for command capability", cfg.Role)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultToolTimeout
	}
	return &Command{cfg: cfg, kind: kind}, nil
}

func (c *Command) Role() string { return c.cfg.Role }

func (c *Command) Handle(ctx context.Context, task *message.Task) (message.Payload, error) {
	input := ToolInput{
		Role:          c.cfg.Role,
		CorrelationID: task.CorrelationID,
		RequestID:     task.RequestID,
		Phase:         task.Phase,
		Attempt:       task.Attempt,
		Input:         task.Input,
	}
	if task.Input != nil {
		input.Kind = task.Input.Kind()
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool input: %w", err)
	}

	log.Printf("[INFO] Executing tool: role=%s command=%s correlation_id=%s",
		c.cfg.Role, strings.Join(c.cfg.Command, " "), task.CorrelationID)

	run, err := runTool(ctx, c.cfg.Command, c.cfg.Dir, c.cfg.Timeout, inputJSON)
	if err != nil {
		log.Printf("[ERROR] Tool execution failed: role=%s exit_code=%d stderr=%s",
			c.cfg.Role, run.ExitCode, truncate(run.Stderr, 500))
		return nil, c.fail(err)
	}

	payload, err := c.parseOutput(run.Stdout)
	if err != nil {
		log.Printf("[ERROR] Tool output invalid: role=%s stdout=%s", c.cfg.Role, truncate(run.Stdout, 500))
		return nil, c.fail(fmt.Errorf("invalid tool output: %w", err))
	}

	return payload, nil
}

// parseOutput unmarshals and validates the tool's stdout JSON.
func (c *Command) parseOutput(stdout string) (message.Payload, error) {
	if strings.TrimSpace(stdout) == "" {
		return nil, fmt.Errorf("tool produced no output on stdout")
	}

	var output ToolOutput
	if err := json.Unmarshal([]byte(stdout), &output); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := output.Validate(c.kind); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return message.DecodePayload(c.kind, output.Payload)
}

// fail wraps err in the error type matching the role's contract.
func (c *Command) fail(err error) error {
	if c.cfg.Role == agent.RolePublisher {
		return &agent.AssemblyError{Err: err}
	}
	return &agent.GenerationError{Role: c.cfg.Role, Err: err}
}
