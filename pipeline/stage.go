package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/interflow/analysis"
	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// Stage executes one unit of pipeline work against the run state and
// returns the name of the next node, or End.
//
// Execute must be all-or-nothing with respect to state: either the stage
// completes and its mutations are coherent, or it returns an error and
// the caller discards the state. The engine persists state only after a
// successful return.
type Stage interface {
	Name() string
	Execute(ctx context.Context, st *run.State) (next string, err error)
}

// router is implemented by stages with statically known successors, for
// graph validation.
type router interface {
	Routes() []string
}

// PromptBuilder assembles the completion messages for a generation stage
// from the current run state.
type PromptBuilder func(st *run.State) []completion.Message

// GenerationStage invokes the completion provider, streams tokens through
// the context emitter, and commits the full output under its own name.
type GenerationStage struct {
	StageName   string
	Provider    completion.Provider
	Model       string
	Temperature float32
	MaxTokens   int

	Build PromptBuilder
	// Transform rewrites raw model output before commit, e.g. stripping
	// markdown code fences around generated scripts.
	Transform func(text string) string
	// AfterCommit runs once the output is written, for derived state such
	// as rebuilding edit units.
	AfterCommit func(st *run.State)
	// ConsumesFeedback clears pending feedback context after a full
	// commit. Set on stages that fold HumanFeedback into their prompt.
	ConsumesFeedback bool
	// CommitAs overrides the output name. Stages in a revision loop share
	// one logical output so edits and review always target the current
	// content.
	CommitAs string

	NextStage string
}

func (s *GenerationStage) Name() string     { return s.StageName }
func (s *GenerationStage) Routes() []string { return []string{s.NextStage} }

func (s *GenerationStage) Execute(ctx context.Context, st *run.State) (string, error) {
	req := &completion.Request{
		Model:       s.Model,
		Messages:    s.Build(st),
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}

	ch, err := s.Provider.Stream(ctx, req)
	if err != nil {
		if _, ok := err.(*types.Error); ok {
			return "", err
		}
		return "", types.Errorf(types.ErrGenerationFailure, "stage %s: %v", s.StageName, err)
	}

	emit := EmitterFrom(ctx)
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Content)
		emit(s.StageName, chunk.Content)
	}
	// A canceled stream closes without an error chunk; the partial output
	// must not be committed.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := sb.String()
	if s.Transform != nil {
		text = s.Transform(text)
	}
	name := s.CommitAs
	if name == "" {
		name = s.StageName
	}
	st.SetOutput(name, text)
	if s.ConsumesFeedback {
		st.HumanFeedback = ""
		st.EditSummary = ""
		st.InterruptNote = ""
	}
	if s.AfterCommit != nil {
		s.AfterCommit(st)
	}
	return s.NextStage, nil
}

// ControlStage consumes the pending human input at an interrupt point and
// branches. Approval moves forward, feedback loops back to the
// regeneration stage, and structural edits apply directly and re-pause.
type ControlStage struct {
	StageName string
	// ReviewStage is the stage whose committed output is under review.
	ReviewStage string
	// RegenStage receives the run after feedback.
	RegenStage string
	// ApproveStage receives the run after approval.
	ApproveStage string
	// AcceptEdits permits structural_edit inputs at this gate.
	AcceptEdits bool
}

func (s *ControlStage) Name() string { return s.StageName }

func (s *ControlStage) Routes() []string {
	return []string{s.RegenStage, s.ApproveStage, s.StageName}
}

// AllowedKinds lists the input kinds this gate accepts.
func (s *ControlStage) AllowedKinds() []types.InputKind {
	kinds := []types.InputKind{types.InputApprove, types.InputFeedback}
	if s.AcceptEdits {
		kinds = append(kinds, types.InputStructuralEdit)
	}
	return kinds
}

func (s *ControlStage) Execute(ctx context.Context, st *run.State) (string, error) {
	in := st.ConsumePendingInput()
	if in == nil {
		return "", types.Errorf(types.ErrInvalidResumeState, "no pending input at %s", s.StageName)
	}

	switch in.Kind {
	case types.InputApprove:
		return s.ApproveStage, nil

	case types.InputFeedback:
		st.HumanFeedback = in.Comment
		st.RevisionCount++
		return s.RegenStage, nil

	case types.InputStructuralEdit:
		if !s.AcceptEdits {
			return "", types.Errorf(types.ErrValidationFailure, "structural edits not accepted at %s", s.StageName)
		}
		return s.applyEdits(st, in)

	default:
		return "", types.Errorf(types.ErrValidationFailure, "unrecognized input kind: %q", in.Kind)
	}
}

// applyEdits writes direct unit replacements into state without a model
// call. When the input also carries feedback, the edits become prompt
// context and the run regenerates; otherwise the gate re-pauses with the
// edited content in place.
func (s *ControlStage) applyEdits(st *run.State, in *types.HumanInput) (string, error) {
	var summary []string
	for _, id := range sortedKeys(in.Edits) {
		text := in.Edits[id]
		prev, ok := st.EditUnit(id)
		if !ok {
			return "", types.Errorf(types.ErrValidationFailure, "unknown edit unit: %s", id)
		}
		st.SetEditUnit(id, text)
		summary = append(summary, fmt.Sprintf("Unit %s: edited from %q to %q", id, clip(prev.Text, 80), clip(text, 80)))
	}
	for _, id := range sortedKeys(in.UnitFeedback) {
		unit, ok := st.EditUnit(id)
		if !ok {
			return "", types.Errorf(types.ErrValidationFailure, "unknown edit unit: %s", id)
		}
		summary = append(summary, fmt.Sprintf("Unit %s (%q): feedback: %s", id, clip(unit.Text, 60), in.UnitFeedback[id]))
	}

	if len(in.Edits) > 0 && s.ReviewStage != "" {
		st.SetOutput(s.ReviewStage, JoinUnits(st.EditUnits))
	}
	st.EditSummary = strings.Join(summary, "\n")

	if len(in.UnitFeedback) > 0 || in.Comment != "" {
		st.HumanFeedback = in.Comment
		st.RevisionCount++
		return s.RegenStage, nil
	}
	return s.StageName, nil
}

// ExecStage runs generated code through the analysis executor. A failed
// script loops back to the code stage with the failure as feedback, up to
// MaxAttempts consecutive failures.
type ExecStage struct {
	StageName string
	Executor  analysis.Executor
	// CodeStage is the stage whose committed output is executed.
	CodeStage string
	NextStage string
	// RetryStage regenerates the code after a failed execution. Empty
	// means a failed script fails the run.
	RetryStage  string
	MaxAttempts int
}

func (s *ExecStage) Name() string { return s.StageName }

func (s *ExecStage) Routes() []string {
	routes := []string{s.NextStage}
	if s.RetryStage != "" {
		routes = append(routes, s.RetryStage)
	}
	return routes
}

func (s *ExecStage) Execute(ctx context.Context, st *run.State) (string, error) {
	code, ok := st.Output(s.CodeStage)
	if !ok || code == "" {
		return "", types.Errorf(types.ErrExecutionFailure, "no code committed by %s", s.CodeStage)
	}

	res, err := s.Executor.Run(ctx, code, st.AttachmentRef)
	if err != nil {
		if _, typed := err.(*types.Error); typed {
			return "", err
		}
		return "", types.Errorf(types.ErrExecutionFailure, "stage %s: %v", s.StageName, err)
	}

	if !res.Success {
		st.ExecAttempts++
		max := s.MaxAttempts
		if max <= 0 {
			max = 2
		}
		if s.RetryStage == "" || st.ExecAttempts >= max {
			return "", types.Errorf(types.ErrExecutionFailure, "execution failed after %d attempts: %s", st.ExecAttempts, res.Error)
		}
		st.HumanFeedback = "The previous code failed to execute. Error:\n" + res.Error
		return s.RetryStage, nil
	}

	st.ExecAttempts = 0
	st.SetOutput(s.StageName, res.Output)
	st.Artifacts = append(st.Artifacts, res.Artifacts...)
	EmitterFrom(ctx)(s.StageName, res.Output)
	return s.NextStage, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
