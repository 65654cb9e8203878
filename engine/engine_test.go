package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/interflow/analysis"
	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/pipeline"
	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// testScript produces stage-distinct deterministic outputs keyed off the
// system prompt, so replays of the same input sequence yield identical
// content.
func testScript(req *completion.Request) (string, error) {
	sys := req.Messages[0].Content
	switch {
	case strings.Contains(sys, "research assistant"):
		return "Key facts about the topic.", nil
	case strings.Contains(sys, "Python data analyst"):
		return "```python\nprint('analysis')\n```", nil
	case strings.Contains(sys, "FEEDBACK FROM HUMAN"):
		return "Revised draft. It addresses the feedback given.", nil
	case strings.Contains(sys, "content generator"):
		return "First sentence. Second sentence. Third sentence.", nil
	case strings.Contains(sys, "human edits and feedback"):
		return "Merged sentence one. Merged sentence two.", nil
	case strings.Contains(sys, "data analyst. Analyze"):
		return "Exploration report for the dataset.", nil
	case strings.Contains(sys, "data science consultant"):
		return "1. Compute summary statistics. 2. Plot trends.", nil
	case strings.Contains(sys, "visualization specialist"):
		return "```python\nplot()\n```", nil
	case strings.Contains(sys, "report writer"):
		return "Final report with findings.", nil
	case strings.Contains(sys, "approved"):
		return "Polished final answer.", nil
	default:
		return "Initial draft reply. It covers the request.", nil
	}
}

type harness struct {
	engine   *Engine
	store    *run.MemoryStore
	provider *completion.ScriptedProvider
	executor *analysis.ScriptedExecutor
}

func newHarnessE(execResults ...*analysis.Result) (*harness, error) {
	provider := completion.NewScriptedProvider(testScript)
	executor := analysis.NewScriptedExecutor(nil, execResults...)
	reg, err := pipeline.DefaultRegistry(pipeline.Deps{
		Provider: provider,
		Executor: executor,
	})
	if err != nil {
		return nil, err
	}

	store := run.NewMemoryStore()
	return &harness{
		engine:   New(reg, store, nil, nil),
		store:    store,
		provider: provider,
		executor: executor,
	}, nil
}

func newHarness(t *testing.T, execResults ...*analysis.Result) *harness {
	t.Helper()
	h, err := newHarnessE(execResults...)
	require.NoError(t, err)
	return h
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) tokens(stage string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, ev := range r.events {
		if ev.Kind == EventToken && ev.Stage == stage {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

func (r *recorder) lastStatus() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == EventStatus || r.events[i].Kind == EventError {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func TestApproveFlowFinishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "write a haiku"})
	require.NoError(t, err)
	assert.Equal(t, run.StatusNotStarted, st.Status)

	rec := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, "review", st.CurrentStage)

	// Streamed tokens reassemble into the committed draft.
	draft, ok := st.Output("draft")
	require.True(t, ok)
	assert.Equal(t, draft, rec.tokens("draft"))

	status, ok := rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "user_feedback", status.Status)
	assert.Equal(t, draft, status.Payload["assistant_response"])

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)

	rec2 := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec2.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFinished, st.Status)

	final, ok := rec2.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "finished", final.Status)
	assert.Equal(t, "Polished final answer.", final.Payload["final_output"])
	assert.Equal(t, 0, st.RevisionCount)
}

func TestFeedbackLoopRevises(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "research", OriginalRequest: "explain raft"})
	require.NoError(t, err)

	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, st.Status)
	firstDraft, _ := st.Output("draft")

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:    types.InputFeedback,
		Comment: "add more detail on leader election",
	})
	require.NoError(t, err)

	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, 1, st.RevisionCount)

	revised, _ := st.Output("draft")
	assert.NotEqual(t, firstDraft, revised)
	assert.Contains(t, revised, "Revised")

	// The revision prompt carried the feedback; the research stage did not
	// re-run.
	last := h.provider.LastRequest()
	require.NotNil(t, last)
	assert.Contains(t, last.Messages[0].Content, "leader election")
	var researchCalls int
	for _, req := range h.provider.Requests() {
		if strings.Contains(req.Messages[0].Content, "research assistant") {
			researchCalls++
		}
	}
	assert.Equal(t, 1, researchCalls)

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFinished, st.Status)
	assert.Equal(t, 1, st.RevisionCount)
}

func TestStructuralEditRePausesWithoutModelCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "editable", OriginalRequest: "write three sentences"})
	require.NoError(t, err)

	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, st.Status)
	require.Len(t, st.EditUnits, 3)
	callsBefore := len(h.provider.Requests())

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:  types.InputStructuralEdit,
		Edits: map[string]string{"sentence_1": "A better second sentence."},
	})
	require.NoError(t, err)

	rec := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec.emit)
	require.NoError(t, err)

	// The gate applied the edit and paused again; no generation ran.
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, "edit_review", st.CurrentStage)
	assert.Equal(t, callsBefore, len(h.provider.Requests()))
	assert.Equal(t, 0, st.RevisionCount)

	content, _ := st.Output("content")
	assert.Contains(t, content, "A better second sentence.")
	unit, ok := st.EditUnit("sentence_1")
	require.True(t, ok)
	assert.Equal(t, "A better second sentence.", unit.Text)

	status, ok := rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "editing", status.Status)
}

func TestUnitFeedbackRegenerates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "editable", OriginalRequest: "write"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:         types.InputStructuralEdit,
		UnitFeedback: map[string]string{"sentence_0": "make this punchier"},
	})
	require.NoError(t, err)

	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, 1, st.RevisionCount)

	content, _ := st.Output("content")
	assert.Contains(t, content, "Merged")
	// Units re-derived from the regenerated content.
	require.Len(t, st.EditUnits, 2)
}

func TestUnknownEditUnitRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "editable", OriginalRequest: "write"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)

	version := st.Version

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:  types.InputStructuralEdit,
		Edits: map[string]string{"sentence_99": "nope"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:         types.InputStructuralEdit,
		UnitFeedback: map[string]string{"sentence_99": "tighten this"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))

	// Rejected before merge: the run still awaits input untouched, and a
	// corrected submission goes through.
	st, err = h.engine.GetState(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Nil(t, st.PendingInput)
	assert.Equal(t, version, st.Version)

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:  types.InputStructuralEdit,
		Edits: map[string]string{"sentence_0": "A corrected first sentence."},
	})
	require.NoError(t, err)

	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	unit, ok := st.EditUnit("sentence_0")
	require.True(t, ok)
	assert.Equal(t, "A corrected first sentence.", unit.Text)
}

func TestResumeFinishedRunRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hi"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, st.Status)
	version := st.Version

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidResumeState, types.GetErrorCode(err))

	got, err := h.engine.GetState(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFinished, got.Status)
	assert.Equal(t, version, got.Version)
}

func TestAdvancePausedRunReplaysPause(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hi"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, st.Status)
	version := st.Version

	rec := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, version, st.Version, "replay must not mutate state")

	status, ok := rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "user_feedback", status.Status)
}

func TestDuplicateInputRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hello"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateInput, types.GetErrorCode(err))

	st, err = h.engine.GetState(ctx, st.RunID)
	require.NoError(t, err)
	require.NotNil(t, st.PendingInput)
	assert.Equal(t, types.InputApprove, st.PendingInput.Kind)
}

func TestResumeValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Resume(ctx, "no-such-run", &types.HumanInput{Kind: types.InputApprove})
	assert.Equal(t, types.ErrUnknownRun, types.GetErrorCode(err))

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hello"})
	require.NoError(t, err)

	// Not paused yet.
	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	assert.Equal(t, types.ErrInvalidResumeState, types.GetErrorCode(err))

	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)

	// Structural edits are not accepted at the basic review gate.
	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{
		Kind:  types.InputStructuralEdit,
		Edits: map[string]string{"sentence_0": "x"},
	})
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))
}

func TestStartUnknownWorkflow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.engine.Start(context.Background(), StartRequest{WorkflowType: "nope", OriginalRequest: "x"})
	assert.Equal(t, types.ErrUnknownWorkflow, types.GetErrorCode(err))
}

func TestGenerationFailureFailsRun(t *testing.T) {
	t.Parallel()
	provider := &completion.FailingProvider{Prefix: "partial ", Message: "model exploded"}
	reg, err := pipeline.DefaultRegistry(pipeline.Deps{
		Provider: provider,
		Executor: analysis.NewScriptedExecutor(nil),
	})
	require.NoError(t, err)
	store := run.NewMemoryStore()
	eng := New(reg, store, nil, nil)
	ctx := context.Background()

	st, err := eng.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hello"})
	require.NoError(t, err)

	rec := &recorder{}
	_, err = eng.Advance(ctx, st.RunID, rec.emit)
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationFailure, types.GetErrorCode(err))

	st, err = eng.GetState(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, st.Status)

	// Partial output must not be committed.
	_, ok := st.Output("draft")
	assert.False(t, ok)
	msg, ok := st.Output(run.ErrorStage)
	require.True(t, ok)
	assert.Contains(t, msg, "GENERATION_FAILURE")

	// A failed run accepts no further input.
	_, err = eng.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	assert.Equal(t, types.ErrInvalidResumeState, types.GetErrorCode(err))
}

func TestDisconnectMidStreamRecommitsCleanly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hello"})
	require.NoError(t, err)

	// Abort the stream after the first token, simulating a dropped client.
	cancelCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	_, err = h.engine.Advance(cancelCtx, st.RunID, func(ev Event) {
		if ev.Kind == EventToken {
			once.Do(cancel)
		}
	})
	require.Error(t, err)

	got, err := h.engine.GetState(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, got.Status)
	_, ok := got.Output("draft")
	assert.False(t, ok, "partial stage output must not persist")

	// Re-attach re-executes the stage from the last committed boundary.
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	draft, ok := st.Output("draft")
	require.True(t, ok)
	assert.NotEmpty(t, draft)
}

func TestAdvanceTerminalRunReplaysStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hi"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	require.Equal(t, run.StatusFinished, st.Status)
	version := st.Version

	rec := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFinished, st.Status)
	assert.Equal(t, version, st.Version, "replay must not mutate state")

	status, ok := rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "finished", status.Status)
	assert.Equal(t, "Polished final answer.", status.Payload["final_output"])
}

// blockingProvider parks the stream until released, to hold a run
// in-flight.
type blockingProvider struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Stream(ctx context.Context, req *completion.Request) (<-chan completion.Chunk, error) {
	p.startOnce.Do(func() { close(p.started) })
	ch := make(chan completion.Chunk)
	go func() {
		defer close(ch)
		select {
		case <-p.release:
			ch <- completion.Chunk{Content: "done."}
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func TestConcurrentAdvanceGetsRunBusy(t *testing.T) {
	t.Parallel()
	provider := &blockingProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	reg, err := pipeline.DefaultRegistry(pipeline.Deps{
		Provider: provider,
		Executor: analysis.NewScriptedExecutor(nil),
	})
	require.NoError(t, err)
	eng := New(reg, run.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	st, err := eng.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hi"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := eng.Advance(ctx, st.RunID, func(Event) {})
		done <- err
	}()

	<-provider.started
	_, err = eng.Advance(ctx, st.RunID, nil)
	assert.Equal(t, types.ErrRunBusy, types.GetErrorCode(err))

	close(provider.release)
	require.NoError(t, <-done)
}

func TestDataAnalysisFlowWithExecRetry(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		&analysis.Result{Success: false, Error: "NameError: pd is not defined"},
		&analysis.Result{Success: true, Output: "mean: 42"},
		&analysis.Result{Success: true, Output: "saved plot", Artifacts: []string{"plot-1.png"}},
	)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{
		WorkflowType:    "data_analysis",
		OriginalRequest: "analyze sales",
		AttachmentRef:   "data.csv",
		AttachmentName:  "sales.csv",
	})
	require.NoError(t, err)

	rec := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, "plan_review", st.CurrentStage)
	status, _ := rec.lastStatus()
	assert.Equal(t, "code_review", status.Status)
	assert.NotEmpty(t, status.Payload["analysis_plan"])

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)

	rec2 := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec2.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)
	assert.Equal(t, "review", st.CurrentStage)

	// First execution failed, code regenerated once, then both executions
	// succeeded.
	assert.Equal(t, 3, h.executor.Calls())
	assert.Equal(t, 0, st.ExecAttempts)
	assert.Equal(t, []string{"plot-1.png"}, st.Artifacts)

	code, ok := st.Output("codegen")
	require.True(t, ok)
	assert.Equal(t, "print('analysis')", code, "fences stripped before commit")

	_, err = h.engine.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)
	rec3 := &recorder{}
	st, err = h.engine.Advance(ctx, st.RunID, rec3.emit)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFinished, st.Status)

	final, ok := rec3.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "finished", final.Status)
	assert.Equal(t, "Final report with findings.", final.Payload["final_output"])
	assert.Equal(t, []string{"plot-1.png"}, final.Payload["artifacts"])
}

func TestInterruptMessageLandsAsFeedback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.engine.Start(ctx, StartRequest{WorkflowType: "basic", OriginalRequest: "hello"})
	require.NoError(t, err)
	st, err = h.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)

	got, err := h.engine.InterruptMessage(ctx, st.RunID, "shorter please")
	require.NoError(t, err)
	assert.Equal(t, "shorter please", got.InterruptNote)
	assert.Equal(t, "shorter please", got.HumanFeedback)

	_, err = h.engine.InterruptMessage(ctx, st.RunID, "")
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))
}
