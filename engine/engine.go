package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/internal/metrics"
	"github.com/BaSui01/interflow/pipeline"
	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// Engine advances runs through their graphs. It holds no per-run context
// between calls: everything resumable lives in the store, so any engine
// instance can pick up any run.
type Engine struct {
	registry *pipeline.Registry
	store    run.Store
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an engine over the given graphs and store. Metrics may be
// nil.
func New(registry *pipeline.Registry, store run.Store, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		store:    store,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "engine")),
		tracer:   otel.Tracer("interflow/engine"),
		inflight: make(map[string]struct{}),
	}
}

// StartRequest describes a new run.
type StartRequest struct {
	WorkflowType    string
	OriginalRequest string
	AttachmentRef   string
	AttachmentName  string
}

// Start creates a run in not_started status. The first stream attach
// advances it.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*run.State, error) {
	g, err := e.registry.Get(req.WorkflowType)
	if err != nil {
		return nil, err
	}
	if req.OriginalRequest == "" {
		return nil, types.NewError(types.ErrValidationFailure, "request text is required")
	}

	st := run.NewState(g.Name, req.OriginalRequest, g.Entry)
	st.AttachmentRef = req.AttachmentRef
	st.AttachmentName = req.AttachmentName

	if err := e.store.Create(ctx, st); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordRunStarted(g.Name)
	}
	e.logger.Info("run started",
		zap.String("run_id", st.RunID),
		zap.String("workflow", g.Name))
	return st, nil
}

// GetState loads the current state of a run.
func (e *Engine) GetState(ctx context.Context, runID string) (*run.State, error) {
	return e.store.Get(ctx, runID)
}

// Graph returns the graph backing a run's workflow type.
func (e *Engine) Graph(workflowType string) (*pipeline.Graph, error) {
	return e.registry.Get(workflowType)
}

// Workflows lists registered workflow types.
func (e *Engine) Workflows() []string {
	return e.registry.Names()
}

// Advance drives the run until it pauses at an interrupt gate, reaches a
// terminal status, or fails. Tokens and the closing status frame stream
// through emit. One advance per run at a time; concurrent calls get
// RUN_BUSY.
//
// State persists only after each stage completes. If ctx is canceled
// mid-stage, nothing of that stage survives and the next Advance
// re-executes it from the last committed boundary.
func (e *Engine) Advance(ctx context.Context, runID string, emit EmitFunc) (*run.State, error) {
	if emit == nil {
		emit = nopEmit
	}
	if err := e.acquire(runID); err != nil {
		return nil, err
	}
	defer e.release(runID)

	st, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	g, err := e.registry.Get(st.WorkflowType)
	if err != nil {
		return nil, err
	}

	if st.Status.Terminal() {
		// Re-attach to a completed run replays the closing frame.
		e.emitTerminal(emit, g, st)
		return st, nil
	}

	if st.Status == run.StatusNotStarted {
		st.Status = run.StatusRunning
		if err := e.store.Replace(ctx, st); err != nil {
			return nil, err
		}
	}

	ctx = pipeline.WithEmitter(ctx, func(stage, text string) {
		emit(Event{
			Kind:         EventToken,
			RunID:        st.RunID,
			WorkflowType: st.WorkflowType,
			Stage:        stage,
			Text:         text,
		})
		if e.metrics != nil {
			e.metrics.RecordTokens(st.WorkflowType, 1)
		}
	})

	for {
		node, ok := g.Node(st.CurrentStage)
		if !ok {
			return e.failRun(ctx, emit, g, st,
				types.Errorf(types.ErrInternalError, "run %s references unknown stage %q", st.RunID, st.CurrentStage))
		}

		if node.Interrupt && st.PendingInput == nil {
			// Re-attaching to an already-paused run only replays the
			// pause frame; persisting again would bump the version.
			if st.Status != run.StatusPaused {
				st.Status = run.StatusPaused
				if err := e.store.Replace(ctx, st); err != nil {
					return nil, err
				}
			}
			e.emitPause(emit, node, st)
			e.logger.Info("run paused",
				zap.String("run_id", st.RunID),
				zap.String("stage", st.CurrentStage))
			return st, nil
		}

		next, err := e.executeStage(ctx, node, st)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Transport abort: nothing committed, the stage re-executes
				// on the next attach.
				e.logger.Warn("advance aborted mid-stage",
					zap.String("run_id", st.RunID),
					zap.String("stage", st.CurrentStage))
				if cause := context.Cause(ctx); cause != nil {
					return nil, cause
				}
				return nil, err
			}
			return e.failRun(ctx, emit, g, st, err)
		}

		if next == pipeline.End {
			st.Status = run.StatusFinished
			if err := e.store.Replace(ctx, st); err != nil {
				return nil, err
			}
			e.emitTerminal(emit, g, st)
			if e.metrics != nil {
				e.metrics.RecordRunFinished(st.WorkflowType, string(st.Status))
			}
			e.logger.Info("run finished", zap.String("run_id", st.RunID))
			return st, nil
		}

		st.CurrentStage = next
		if err := e.store.Replace(ctx, st); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) executeStage(ctx context.Context, node *pipeline.Node, st *run.State) (string, error) {
	stage := node.Stage.Name()
	sctx, span := e.tracer.Start(ctx, "stage."+stage,
		trace.WithAttributes(
			attribute.String("run.id", st.RunID),
			attribute.String("workflow.type", st.WorkflowType),
		))
	defer span.End()

	start := time.Now()
	next, err := node.Stage.Execute(sctx, st)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if e.metrics != nil {
		e.metrics.RecordStage(st.WorkflowType, stage, time.Since(start))
	}
	return next, nil
}

// failRun records the failure from a fresh snapshot so partial stage
// mutations never persist.
func (e *Engine) failRun(ctx context.Context, emit EmitFunc, g *pipeline.Graph, st *run.State, cause error) (*run.State, error) {
	code := types.GetErrorCode(cause)
	if code == "" {
		code = types.ErrInternalError
	}
	if e.metrics != nil {
		e.metrics.RecordStageFailure(st.WorkflowType, st.CurrentStage, string(code))
		e.metrics.RecordRunFinished(st.WorkflowType, string(run.StatusFailed))
	}
	e.logger.Error("run failed",
		zap.String("run_id", st.RunID),
		zap.String("stage", st.CurrentStage),
		zap.Error(cause))

	fresh, err := e.store.Get(ctx, st.RunID)
	if err != nil {
		fresh = st
	}
	fresh.RecordFailure(code, cause.Error())
	if err := e.store.Replace(ctx, fresh); err != nil {
		e.logger.Error("failed to persist failure", zap.String("run_id", st.RunID), zap.Error(err))
	}

	emit(Event{
		Kind:         EventError,
		RunID:        fresh.RunID,
		WorkflowType: fresh.WorkflowType,
		Stage:        st.CurrentStage,
		Status:       string(run.StatusFailed),
		Payload: map[string]any{
			"code":  string(code),
			"error": cause.Error(),
		},
	})
	return fresh, cause
}

func (e *Engine) emitPause(emit EmitFunc, node *pipeline.Node, st *run.State) {
	payload := map[string]any{}
	if node.Payload != nil {
		for k, v := range node.Payload(st) {
			payload[k] = v
		}
	}
	payload["current_stage"] = st.CurrentStage
	emit(Event{
		Kind:         EventStatus,
		RunID:        st.RunID,
		WorkflowType: st.WorkflowType,
		Stage:        st.CurrentStage,
		Status:       node.StatusLabel(),
		Payload:      payload,
	})
}

func (e *Engine) emitTerminal(emit EmitFunc, g *pipeline.Graph, st *run.State) {
	payload := map[string]any{}
	if st.Status == run.StatusFinished {
		if final, ok := st.Output(g.FinalStage); ok {
			payload["final_output"] = final
		}
		if g.FinalPayload != nil {
			for k, v := range g.FinalPayload(st) {
				payload[k] = v
			}
		}
	} else if msg, ok := st.Output(run.ErrorStage); ok {
		payload["error"] = msg
	}
	emit(Event{
		Kind:         EventStatus,
		RunID:        st.RunID,
		WorkflowType: st.WorkflowType,
		Status:       string(st.Status),
		Payload:      payload,
	})
}

func (e *Engine) acquire(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[runID]; busy {
		return types.Errorf(types.ErrRunBusy, "run %s is already advancing", runID)
	}
	e.inflight[runID] = struct{}{}
	if e.metrics != nil {
		e.metrics.RunActive(1)
	}
	return nil
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	delete(e.inflight, runID)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RunActive(-1)
	}
}
