package completion

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/interflow/types"
)

// ScriptFunc produces the full response text for a request. Used by
// ScriptedProvider to fake a completion service in tests and local
// development.
type ScriptFunc func(req *Request) (string, error)

// ScriptedProvider streams canned responses chunk by chunk. The response
// is split into word-sized chunks so consumers exercise real incremental
// delivery instead of a single fragment.
type ScriptedProvider struct {
	script ScriptFunc

	mu       sync.Mutex
	requests []*Request
}

// NewScriptedProvider creates a provider backed by the given script.
// A nil script echoes the last user message.
func NewScriptedProvider(script ScriptFunc) *ScriptedProvider {
	if script == nil {
		script = func(req *Request) (string, error) {
			for i := len(req.Messages) - 1; i >= 0; i-- {
				if req.Messages[i].Role == RoleUser {
					return req.Messages[i].Content, nil
				}
			}
			return "", nil
		}
	}
	return &ScriptedProvider{script: script}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

// Requests returns every request seen so far, in order.
func (p *ScriptedProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// LastRequest returns the most recent request, or nil.
func (p *ScriptedProvider) LastRequest() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

func (p *ScriptedProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	text, err := p.script(req)
	if err != nil {
		return nil, types.NewError(types.ErrGenerationFailure, "scripted provider error").WithCause(err)
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case ch <- Chunk{Content: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// FailingProvider returns an error chunk after emitting a partial prefix.
// Useful for exercising mid-stream failure and disconnect handling.
type FailingProvider struct {
	// Prefix is streamed before the failure.
	Prefix string
	// Message is the error message carried by the terminal chunk.
	Message string
}

func (p *FailingProvider) Name() string { return "failing" }

func (p *FailingProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		if p.Prefix != "" {
			select {
			case ch <- Chunk{Content: p.Prefix}:
			case <-ctx.Done():
				return
			}
		}
		msg := p.Message
		if msg == "" {
			msg = "upstream completion error"
		}
		select {
		case ch <- Chunk{Err: types.NewError(types.ErrGenerationFailure, msg)}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
