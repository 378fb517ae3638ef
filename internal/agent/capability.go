package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/quill/pkg/message"
)

// Well-known capability roles.
const (
	RoleAuthor      = "author"
	RoleIllustrator = "illustrator"
	RolePublisher   = "publisher"
)

// requestKinds lists the request kind each well-known role accepts.
var requestKinds = map[string]message.Kind{
	RoleAuthor:      message.KindStoryRequest,
	RoleIllustrator: message.KindIllustrationRequest,
	RolePublisher:   message.KindPublicationRequest,
}

// RequestKind returns the request kind handled by a well-known role.
func RequestKind(role string) (message.Kind, bool) {
	k, ok := requestKinds[role]
	return k, ok
}

// Capability performs the work behind one agent role. Handle receives a task
// rebuilt from an inbound request and returns the response payload.
type Capability interface {
	Role() string
	Handle(ctx context.Context, task *message.Task) (message.Payload, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc struct {
	RoleName string
	Fn       func(ctx context.Context, task *message.Task) (message.Payload, error)
}

func (c CapabilityFunc) Role() string { return c.RoleName }

func (c CapabilityFunc) Handle(ctx context.Context, task *message.Task) (message.Payload, error) {
	return c.Fn(ctx, task)
}

// GenerationError reports that a text or image backend failed to produce output.
type GenerationError struct {
	Role string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Role, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) ErrorCode() message.ErrorCode { return message.ErrorCodeGeneration }

// AssemblyError reports that a publication could not be assembled.
type AssemblyError struct {
	Format string
	Err    error
}

func (e *AssemblyError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("assembly failed: %v", e.Err)
	}
	return fmt.Sprintf("assembly of %s failed: %v", e.Format, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

func (e *AssemblyError) ErrorCode() message.ErrorCode { return message.ErrorCodeAssembly }

// errorCode picks the code reported for a capability failure.
func errorCode(role string, err error) message.ErrorCode {
	var coded interface{ ErrorCode() message.ErrorCode }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}

	switch role {
	case RoleAuthor, RoleIllustrator:
		return message.ErrorCodeGeneration
	case RolePublisher:
		return message.ErrorCodeAssembly
	default:
		return message.ErrorCodeInternal
	}
}
