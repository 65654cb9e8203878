package api

import (
	"time"

	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// StartRunRequest creates a new run.
type StartRunRequest struct {
	WorkflowType   string `json:"workflow_type"`
	Request        string `json:"request"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
}

// ResumeRequest submits one human input to a paused run. The kind field
// is a closed set; unknown kinds fail at decode time.
type ResumeRequest struct {
	Kind         types.InputKind   `json:"kind"`
	Comment      string            `json:"comment,omitempty"`
	Edits        map[string]string `json:"edits,omitempty"`
	UnitFeedback map[string]string `json:"unit_feedback,omitempty"`
}

// Input converts the wire request into the engine's input type.
func (r *ResumeRequest) Input() *types.HumanInput {
	return &types.HumanInput{
		Kind:         r.Kind,
		Comment:      r.Comment,
		Edits:        r.Edits,
		UnitFeedback: r.UnitFeedback,
	}
}

// InterruptRequest carries a best-effort mid-run message.
type InterruptRequest struct {
	Message string `json:"message"`
}

// StageOutputView is one committed stage output.
type StageOutputView struct {
	Stage   string `json:"stage"`
	Content string `json:"content"`
}

// RunView is the client-facing snapshot of a run.
type RunView struct {
	RunID           string            `json:"run_id"`
	WorkflowType    string            `json:"workflow_type"`
	OriginalRequest string            `json:"original_request"`
	Status          string            `json:"status"`
	CurrentStage    string            `json:"current_stage"`
	RevisionCount   int               `json:"revision_count"`
	AwaitingInput   bool              `json:"awaiting_input"`
	AcceptedKinds   []types.InputKind `json:"accepted_kinds,omitempty"`
	StageOutputs    []StageOutputView `json:"stage_outputs,omitempty"`
	Artifacts       []string          `json:"artifacts,omitempty"`
	AttachmentName  string            `json:"attachment_name,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// SentenceView is one editable unit of the current content.
type SentenceView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SentencesResponse lists the editable units a structural edit may target.
type SentencesResponse struct {
	RunID         string         `json:"run_id"`
	RevisionCount int            `json:"revision_count"`
	Sentences     []SentenceView `json:"sentences"`
}

// UploadResponse returns the reference for an uploaded dataset.
type UploadResponse struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

// WorkflowInfo describes one registered workflow.
type WorkflowInfo struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

func viewOf(st *run.State, accepted []types.InputKind) *RunView {
	v := &RunView{
		RunID:           st.RunID,
		WorkflowType:    st.WorkflowType,
		OriginalRequest: st.OriginalRequest,
		Status:          string(st.Status),
		CurrentStage:    st.CurrentStage,
		RevisionCount:   st.RevisionCount,
		AwaitingInput:   st.Status == run.StatusPaused && st.PendingInput == nil,
		AcceptedKinds:   accepted,
		Artifacts:       st.Artifacts,
		AttachmentName:  st.AttachmentName,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
	}
	for _, out := range st.StageOutputs {
		v.StageOutputs = append(v.StageOutputs, StageOutputView(out))
	}
	return v
}
