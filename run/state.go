package run

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/interflow/types"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further advance is legal.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// ErrorStage is the reserved stage-output name recording a failure.
const ErrorStage = "__error__"

// StageOutput is the last committed output of one stage. Outputs keep
// stage-execution order; re-execution overwrites in place.
type StageOutput struct {
	Stage   string `json:"stage"`
	Content string `json:"content"`
}

// EditUnit is one addressable fragment of generated content. Unit ids are
// only stable until the producing stage re-derives them from new text.
type EditUnit struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// State is the serializable record of one pipeline execution. All resumable
// context lives here; the engine holds nothing between advance calls.
type State struct {
	RunID           string `json:"run_id"`
	WorkflowType    string `json:"workflow_type"`
	OriginalRequest string `json:"original_request"`

	AttachmentRef  string `json:"attachment_ref,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`

	StageOutputs []StageOutput     `json:"stage_outputs,omitempty"`
	PendingInput *types.HumanInput `json:"pending_input,omitempty"`

	// HumanFeedback is feedback text waiting to be folded into the next
	// regeneration. Cleared by the generation stage after a full commit.
	HumanFeedback string `json:"human_feedback,omitempty"`
	// EditSummary describes applied or requested unit edits, carried as
	// context for the next regeneration alongside HumanFeedback.
	EditSummary string `json:"edit_summary,omitempty"`
	// InterruptNote is a best-effort mid-generation hint. It never aborts
	// an in-flight chunk sequence; the next prompt assembly consumes it.
	InterruptNote string `json:"interrupt_note,omitempty"`

	RevisionCount int `json:"revision_count"`
	// ExecAttempts counts consecutive failed code executions, bounding the
	// regenerate-and-retry loop.
	ExecAttempts int `json:"exec_attempts,omitempty"`
	Status        Status   `json:"status"`
	CurrentStage  string   `json:"current_stage"`
	EditUnits     []EditUnit `json:"edit_units,omitempty"`
	Artifacts     []string `json:"artifacts,omitempty"`

	// Version supports replace-if-version-matches in the Store.
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the initial state for a fresh run.
func NewState(workflowType, originalRequest, entryStage string) *State {
	now := time.Now().UTC()
	return &State{
		RunID:           uuid.NewString(),
		WorkflowType:    workflowType,
		OriginalRequest: originalRequest,
		Status:          StatusNotStarted,
		CurrentStage:    entryStage,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Output returns the last committed output for a stage.
func (s *State) Output(stage string) (string, bool) {
	for _, out := range s.StageOutputs {
		if out.Stage == stage {
			return out.Content, true
		}
	}
	return "", false
}

// SetOutput commits a stage output, overwriting any earlier execution's
// entry in place so insertion order stays stage-execution order.
func (s *State) SetOutput(stage, content string) {
	for i := range s.StageOutputs {
		if s.StageOutputs[i].Stage == stage {
			s.StageOutputs[i].Content = content
			return
		}
	}
	s.StageOutputs = append(s.StageOutputs, StageOutput{Stage: stage, Content: content})
}

// EditUnit returns the unit with the given id.
func (s *State) EditUnit(id string) (EditUnit, bool) {
	for _, u := range s.EditUnits {
		if u.ID == id {
			return u, true
		}
	}
	return EditUnit{}, false
}

// SetEditUnit replaces the text of an existing unit. Unknown ids are
// ignored: stale ids after a regeneration are invalid by design.
func (s *State) SetEditUnit(id, text string) bool {
	for i := range s.EditUnits {
		if s.EditUnits[i].ID == id {
			s.EditUnits[i].Text = text
			return true
		}
	}
	return false
}

// EditUnitMap returns the units as an id-to-text map.
func (s *State) EditUnitMap() map[string]string {
	if len(s.EditUnits) == 0 {
		return nil
	}
	m := make(map[string]string, len(s.EditUnits))
	for _, u := range s.EditUnits {
		m[u.ID] = u.Text
	}
	return m
}

// ConsumePendingInput returns and clears the pending human input.
func (s *State) ConsumePendingInput() *types.HumanInput {
	in := s.PendingInput
	s.PendingInput = nil
	return in
}

// Clone returns a deep copy so stores can hand out snapshots without
// sharing mutable slices.
func (s *State) Clone() *State {
	c := *s
	if s.StageOutputs != nil {
		c.StageOutputs = make([]StageOutput, len(s.StageOutputs))
		copy(c.StageOutputs, s.StageOutputs)
	}
	if s.EditUnits != nil {
		c.EditUnits = make([]EditUnit, len(s.EditUnits))
		copy(c.EditUnits, s.EditUnits)
	}
	if s.Artifacts != nil {
		c.Artifacts = make([]string, len(s.Artifacts))
		copy(c.Artifacts, s.Artifacts)
	}
	if s.PendingInput != nil {
		in := *s.PendingInput
		if s.PendingInput.Edits != nil {
			in.Edits = make(map[string]string, len(s.PendingInput.Edits))
			for k, v := range s.PendingInput.Edits {
				in.Edits[k] = v
			}
		}
		if s.PendingInput.UnitFeedback != nil {
			in.UnitFeedback = make(map[string]string, len(s.PendingInput.UnitFeedback))
			for k, v := range s.PendingInput.UnitFeedback {
				in.UnitFeedback[k] = v
			}
		}
		c.PendingInput = &in
	}
	return &c
}

// RecordFailure writes the failure kind and message into the reserved
// error output and marks the run failed.
func (s *State) RecordFailure(code types.ErrorCode, message string) {
	s.Status = StatusFailed
	s.SetOutput(ErrorStage, string(code)+": "+message)
}
