package completion

import (
	"context"

	"github.com/BaSui01/interflow/types"
)

// Role identifies a message author in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the assembled prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is an assembled prompt for one generation stage invocation.
type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Chunk is one streamed text fragment. A non-nil Err terminates the
// sequence; no further chunks follow it.
type Chunk struct {
	Content string
	Err     *types.Error
}

// Provider is the opaque text-completion service consumed by generation
// stages. The returned channel is a finite, ordered chunk sequence and is
// not restartable mid-sequence; callers that need the output again must
// issue a fresh request.
type Provider interface {
	// Stream starts a completion and returns the chunk channel. The
	// channel is closed after the final chunk or an error chunk.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Name returns the provider's unique identifier.
	Name() string
}
