package pipeline

import "context"

// EmitFunc receives one streamed text fragment attributed to a stage.
type EmitFunc func(stage, text string)

type emitterKey struct{}

// WithEmitter attaches a stream emitter to the context. Stages emit
// model tokens through it as they arrive.
func WithEmitter(ctx context.Context, fn EmitFunc) context.Context {
	return context.WithValue(ctx, emitterKey{}, fn)
}

// EmitterFrom returns the attached emitter, or a no-op when none is set.
func EmitterFrom(ctx context.Context) EmitFunc {
	if fn, ok := ctx.Value(emitterKey{}).(EmitFunc); ok && fn != nil {
		return fn
	}
	return func(string, string) {}
}
