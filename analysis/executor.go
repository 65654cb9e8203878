// Package analysis runs generated data-analysis code in an isolated
// worker and reports results back to the pipeline. The engine only sees
// the Executor interface; sandboxing is the implementation's problem.
package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/interflow/types"
)

// Result is the outcome of executing one generated script.
type Result struct {
	// Success reports whether the script ran to completion.
	Success bool `json:"success"`
	// Output is captured stdout, truncated by the executor.
	Output string `json:"output"`
	// Error holds stderr or the failure reason when Success is false.
	Error string `json:"error,omitempty"`
	// Artifacts lists references to files the script produced (plots,
	// exports), resolvable through the attachment store.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Executor runs analysis code against an optional input dataset.
type Executor interface {
	// Run executes code with the dataset referenced by inputRef available
	// in the working directory. A failed script returns a Result with
	// Success false, not an error; errors mean the executor itself broke.
	Run(ctx context.Context, code, inputRef string) (*Result, error)
}

// ScriptedExecutor returns canned results keyed by nothing in particular:
// each Run pops the next queued result. Tests and local development use
// it in place of a real sandbox.
type ScriptedExecutor struct {
	results []*Result
	logger  *zap.Logger

	calls []scriptedCall
}

type scriptedCall struct {
	Code     string
	InputRef string
}

// NewScriptedExecutor queues the given results in order. When the queue
// is exhausted, Run returns a generic success.
func NewScriptedExecutor(logger *zap.Logger, results ...*Result) *ScriptedExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScriptedExecutor{
		results: results,
		logger:  logger.With(zap.String("component", "scripted_executor")),
	}
}

func (e *ScriptedExecutor) Run(ctx context.Context, code, inputRef string) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.calls = append(e.calls, scriptedCall{Code: code, InputRef: inputRef})
	if len(e.results) == 0 {
		return &Result{Success: true, Output: "ok"}, nil
	}
	res := e.results[0]
	e.results = e.results[1:]
	e.logger.Debug("scripted execution", zap.Bool("success", res.Success))
	return res, nil
}

// Calls returns the code and input of every Run so far.
func (e *ScriptedExecutor) Calls() int { return len(e.calls) }

// RemoteConfig configures the HTTP executor.
type RemoteConfig struct {
	// Endpoint is the execution service URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Timeout bounds one script execution end to end.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultRemoteConfig returns the default executor configuration.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{Timeout: 2 * time.Minute}
}

// Validate checks the configuration.
func (c RemoteConfig) Validate() error {
	if c.Endpoint == "" {
		return types.NewError(types.ErrValidationFailure, "executor endpoint is required")
	}
	return nil
}
