// Package interflow provides a top-level convenience entry point for
// embedding the pipeline engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/interflow"
//
//	eng, err := interflow.New(interflow.WithProvider(myProvider))
//	eng, err := interflow.New(
//	    interflow.WithStore(run.NewMemoryStore()),
//	    interflow.WithLogger(logger),
//	)
//
// The zero-option form wires the in-memory store and the scripted
// provider, which is enough for tests and local experiments. Production
// services should assemble the pieces explicitly the way cmd/interflow
// does.
package interflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/analysis"
	"github.com/BaSui01/interflow/attach"
	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/pipeline"
	"github.com/BaSui01/interflow/run"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	provider    completion.Provider
	executor    analysis.Executor
	attachments attach.Store
	store       run.Store
	logger      *zap.Logger
	model       string
	temperature float32
}

// WithProvider sets the completion provider.
func WithProvider(p completion.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithExecutor sets the analysis code executor.
func WithExecutor(e analysis.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithAttachments sets the attachment store.
func WithAttachments(s attach.Store) Option {
	return func(o *options) { o.attachments = s }
}

// WithStore sets the run store.
func WithStore(s run.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithModel sets the default model name.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *options) { o.temperature = t }
}

// New creates an [engine.Engine] over the built-in workflows. Unset
// options fall back to in-process defaults.
func New(opts ...Option) (*engine.Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider == nil {
		o.provider = completion.NewScriptedProvider(nil)
	}
	if o.executor == nil {
		o.executor = analysis.NewScriptedExecutor(o.logger)
	}
	if o.store == nil {
		o.store = run.NewMemoryStore()
	}

	registry, err := pipeline.DefaultRegistry(pipeline.Deps{
		Provider:    o.provider,
		Executor:    o.executor,
		Attachments: o.attachments,
		Model:       o.model,
		Temperature: o.temperature,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(registry, o.store, nil, o.logger), nil
}
