package pipeline

import (
	"strings"

	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/run"
)

// WorkflowEditable exposes generated content as addressable units the
// human can edit directly or annotate with per-unit feedback.
const WorkflowEditable = "editable"

// contentStage is the shared logical output both generation stages commit
// to, so edits and review always target the current content.
const contentStage = "content"

const editableGeneratePrompt = `You are a content generator. Create well-structured, clear content based on the user's query.

IMPORTANT: Write in complete, well-formed sentences. Each sentence should be:
- Self-contained and clear
- Properly punctuated
- Ready for individual editing

Format your response as natural, flowing text with proper sentence structure.`

const editableIncorporatePrompt = `You are a content editor revising content based on human edits and feedback.

CURRENT CONTENT:
{content}

HUMAN EDITS AND FEEDBACK:
{edits}
{feedback}

Your task:
1. Incorporate ALL human edits exactly as specified
2. Address ALL feedback provided (both sentence-specific and general)
3. Update the surrounding context to ensure coherence
4. Maintain the overall structure and flow
5. Keep all unedited sentences as close to original as possible

Generate the revised content that seamlessly integrates the edits and addresses all feedback.`

const editableFinalizePrompt = `You are a content editor finalizing approved content. The user has approved the current version.
Your task is to make final polish improvements:
- Ensure perfect grammar and punctuation
- Improve flow and transitions
- Enhance clarity where needed
- Maintain the essence and structure of the approved content

DO NOT significantly change the content. Focus on polishing what was approved.`

// NewEditableGraph builds the unit-editing pipeline. Direct edits apply
// without a model call and re-pause; feedback of any kind regenerates
// through the incorporate stage.
func NewEditableGraph(d Deps) *Graph {
	deriveUnits := func(st *run.State) {
		content, _ := st.Output(contentStage)
		st.EditUnits = DeriveUnits(content)
	}

	generate := &GenerationStage{
		StageName:   "generate",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		CommitAs:    contentStage,
		AfterCommit: deriveUnits,
		NextStage:   "edit_review",
		Build: func(st *run.State) []completion.Message {
			return []completion.Message{
				{Role: completion.RoleSystem, Content: editableGeneratePrompt},
				{Role: completion.RoleUser, Content: "User request: " + st.OriginalRequest},
			}
		},
	}

	editReview := &ControlStage{
		StageName:    "edit_review",
		ReviewStage:  contentStage,
		RegenStage:   "incorporate_edits",
		ApproveStage: "finalize",
		AcceptEdits:  true,
	}

	incorporate := &GenerationStage{
		StageName:        "incorporate_edits",
		Provider:         d.Provider,
		Model:            d.Model,
		Temperature:      d.Temperature,
		CommitAs:         contentStage,
		ConsumesFeedback: true,
		AfterCommit:      deriveUnits,
		NextStage:        "edit_review",
		Build: func(st *run.State) []completion.Message {
			content, _ := st.Output(contentStage)
			edits := st.EditSummary
			if edits == "" {
				edits = "No direct edits"
			}
			feedback := ""
			if st.HumanFeedback != "" {
				feedback = "\nGENERAL FEEDBACK:\n" + st.HumanFeedback
			}
			prompt := strings.NewReplacer(
				"{content}", d.budget().Fit(content),
				"{edits}", edits,
				"{feedback}", feedback,
			).Replace(editableIncorporatePrompt)
			return []completion.Message{
				{Role: completion.RoleSystem, Content: prompt},
				{Role: completion.RoleUser, Content: "Original query: " + st.OriginalRequest},
			}
		},
	}

	finalize := &GenerationStage{
		StageName:   "finalize",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		NextStage:   End,
		Build: func(st *run.State) []completion.Message {
			content, _ := st.Output(contentStage)
			return []completion.Message{
				{Role: completion.RoleSystem, Content: editableFinalizePrompt},
				{Role: completion.RoleUser, Content: "Approved content to finalize:\n\n" + d.budget().Fit(content)},
			}
		},
	}

	editPayload := func(st *run.State) map[string]any {
		content, _ := st.Output(contentStage)
		return map[string]any{
			"current_content": content,
			"sentences":       st.EditUnitMap(),
			"revision_count":  st.RevisionCount,
		}
	}

	g := NewGraph(WorkflowEditable, "generate", "finalize")
	g.FinalPayload = func(st *run.State) map[string]any {
		return map[string]any{"revision_count": st.RevisionCount}
	}
	g.Add(&Node{Stage: generate})
	g.Add(&Node{Stage: editReview, Interrupt: true, PauseStatus: "editing", Payload: editPayload})
	g.Add(&Node{Stage: incorporate})
	g.Add(&Node{Stage: finalize})
	return g
}
