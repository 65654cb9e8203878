package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// Resume merges one human input into a paused run. It only stores the
// decision; the next Advance (driven by a stream attach) consumes it.
//
// Exactly one input may be pending per run. Concurrent resumes race on
// the store's version check: the loser gets CONFLICT, a second input
// after one is pending gets DUPLICATE_INPUT.
func (e *Engine) Resume(ctx context.Context, runID string, in *types.HumanInput) (*run.State, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	st, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, types.Errorf(types.ErrInvalidResumeState, "run %s is %s", runID, st.Status)
	}
	// A stored input moves the run off paused, so this check must come
	// before the status one or a second resume misreports the state.
	if st.PendingInput != nil {
		return nil, types.Errorf(types.ErrDuplicateInput, "run %s already has pending input", runID)
	}
	if st.Status != run.StatusPaused {
		return nil, types.Errorf(types.ErrInvalidResumeState, "run %s is not awaiting input", runID)
	}

	g, err := e.registry.Get(st.WorkflowType)
	if err != nil {
		return nil, err
	}
	node, ok := g.Node(st.CurrentStage)
	if !ok || !node.Interrupt {
		return nil, types.Errorf(types.ErrInvalidResumeState, "run %s is not paused at an interrupt point", runID)
	}
	if !node.Accepts(in.Kind) {
		return nil, types.Errorf(types.ErrValidationFailure, "input kind %q not accepted at %s", in.Kind, st.CurrentStage)
	}
	if in.Kind == types.InputStructuralEdit {
		if err := validateEditIDs(st, in); err != nil {
			return nil, err
		}
	}

	st.PendingInput = in
	st.Status = run.StatusRunning
	if err := e.store.Replace(ctx, st); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordResume(st.WorkflowType, string(in.Kind))
	}
	e.logger.Info("input accepted",
		zap.String("run_id", runID),
		zap.String("stage", st.CurrentStage),
		zap.String("kind", string(in.Kind)))
	return st, nil
}

// validateEditIDs rejects structural edits naming units the run does not
// have, before anything merges. Ids go stale whenever content regenerates,
// so a typo or an outdated client must not reach the gate, where the same
// failure would be terminal.
func validateEditIDs(st *run.State, in *types.HumanInput) error {
	for id := range in.Edits {
		if _, ok := st.EditUnit(id); !ok {
			return types.Errorf(types.ErrValidationFailure, "unknown edit unit: %s", id)
		}
	}
	for id := range in.UnitFeedback {
		if _, ok := st.EditUnit(id); !ok {
			return types.Errorf(types.ErrValidationFailure, "unknown edit unit: %s", id)
		}
	}
	return nil
}

// InterruptMessage records a best-effort mid-run note. It never aborts an
// in-flight chunk sequence; the message lands as feedback context for the
// next regeneration. If the note lands mid-advance it bumps the version,
// so the concurrent stage commit fails with CONFLICT, discards its output,
// and re-executes with the note in place on the next attach.
func (e *Engine) InterruptMessage(ctx context.Context, runID, message string) (*run.State, error) {
	if message == "" {
		return nil, types.NewError(types.ErrValidationFailure, "message is required")
	}

	for attempt := 0; ; attempt++ {
		st, err := e.store.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if st.Status.Terminal() {
			return nil, types.Errorf(types.ErrInvalidResumeState, "run %s is %s", runID, st.Status)
		}

		st.InterruptNote = message
		st.HumanFeedback = message
		err = e.store.Replace(ctx, st)
		if err == nil {
			e.logger.Info("interrupt note recorded", zap.String("run_id", runID))
			return st, nil
		}
		if types.GetErrorCode(err) != types.ErrConflict || attempt >= 2 {
			return nil, err
		}
	}
}
