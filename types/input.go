package types

import (
	"encoding/json"
	"fmt"
)

// InputKind is the closed set of human decisions a paused run accepts.
// Anything else is rejected at deserialization, not deep in branch logic.
type InputKind string

const (
	// InputApprove accepts the reviewed content and lets the run proceed.
	InputApprove InputKind = "approve"
	// InputFeedback sends free-text feedback and loops back to the
	// generation stage whose output was under review.
	InputFeedback InputKind = "feedback"
	// InputStructuralEdit replaces individual edit units directly,
	// bypassing the generative model.
	InputStructuralEdit InputKind = "structural_edit"
)

// ParseInputKind validates a wire-level action string against the closed set.
func ParseInputKind(s string) (InputKind, error) {
	switch InputKind(s) {
	case InputApprove, InputFeedback, InputStructuralEdit:
		return InputKind(s), nil
	}
	return "", Errorf(ErrValidationFailure, "unrecognized input kind: %q", s)
}

// UnmarshalJSON rejects unknown kinds at the boundary.
func (k *InputKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("input kind: %w", err)
	}
	kind, err := ParseInputKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// HumanInput is one unconsumed human decision for a paused run.
// At most one may be pending per run at a time.
type HumanInput struct {
	Kind InputKind `json:"kind"`
	// Comment carries free text for feedback, or an optional note
	// accompanying an approval or edit.
	Comment string `json:"comment,omitempty"`
	// Edits maps edit-unit id to replacement text for structural edits.
	Edits map[string]string `json:"edits,omitempty"`
	// UnitFeedback maps edit-unit id to per-unit feedback text.
	UnitFeedback map[string]string `json:"unit_feedback,omitempty"`
}

// HasEdits reports whether the input carries direct unit replacements.
func (in *HumanInput) HasEdits() bool {
	return in != nil && len(in.Edits) > 0
}

// HasFeedback reports whether the input carries any feedback text,
// general or per-unit.
func (in *HumanInput) HasFeedback() bool {
	if in == nil {
		return false
	}
	return in.Comment != "" || len(in.UnitFeedback) > 0
}

// Validate checks internal consistency of the input payload.
func (in *HumanInput) Validate() error {
	if in == nil {
		return NewError(ErrValidationFailure, "input is required")
	}
	if _, err := ParseInputKind(string(in.Kind)); err != nil {
		return err
	}
	if in.Kind == InputStructuralEdit && len(in.Edits) == 0 && len(in.UnitFeedback) == 0 {
		return NewError(ErrValidationFailure, "structural edit requires at least one edit or unit feedback")
	}
	return nil
}
