package pipeline

import (
	"fmt"

	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/run"
)

// WorkflowBasic is the draft-review-finalize loop.
const WorkflowBasic = "basic"

const basicDraftPrompt = `You are an AI assistant. Your goal is to fully understand and fulfill the user's request by preparing a relevant, clear, and helpful draft reply. Focus on addressing the user's needs directly and comprehensively.
Do not reference any previous human feedback at this stage.`

const basicRevisePrompt = `You are an AI assistant revising your previous draft.

FEEDBACK FROM HUMAN: %q

Carefully incorporate this feedback into your response. Address all comments, corrections, or suggestions. Ensure your revised response fully integrates the feedback, improves clarity, and resolves any issues raised.

DO NOT repeat the feedback verbatim in your response.`

const basicFinalizePrompt = `You are an AI assistant. The user has approved your draft. Carefully review your reply and make any final improvements to clarity, tone, and completeness. Ensure the response is polished, professional, and ready to be delivered as the final answer.

DO NOT expand the response significantly or revert to earlier versions. Focus on polishing the MOST RECENT draft that was approved.`

// NewBasicGraph builds the minimal interactive pipeline: one draft stage,
// one review gate, one finalize pass.
func NewBasicGraph(d Deps) *Graph {
	draft := &GenerationStage{
		StageName:        "draft",
		Provider:         d.Provider,
		Model:            d.Model,
		Temperature:      d.Temperature,
		ConsumesFeedback: true,
		NextStage:        "review",
		Build: func(st *run.State) []completion.Message {
			if st.HumanFeedback != "" {
				prev, _ := st.Output("draft")
				return []completion.Message{
					{Role: completion.RoleSystem, Content: fmt.Sprintf(basicRevisePrompt, st.HumanFeedback)},
					{Role: completion.RoleUser, Content: "Previous draft: " + d.budget().Fit(prev)},
					{Role: completion.RoleUser, Content: st.OriginalRequest},
				}
			}
			return []completion.Message{
				{Role: completion.RoleSystem, Content: basicDraftPrompt},
				{Role: completion.RoleUser, Content: st.OriginalRequest},
			}
		},
	}

	review := &ControlStage{
		StageName:    "review",
		ReviewStage:  "draft",
		RegenStage:   "draft",
		ApproveStage: "finalize",
	}

	finalize := &GenerationStage{
		StageName:   "finalize",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		NextStage:   End,
		Build: func(st *run.State) []completion.Message {
			approved, _ := st.Output("draft")
			return []completion.Message{
				{Role: completion.RoleSystem, Content: basicFinalizePrompt},
				{Role: completion.RoleUser, Content: st.OriginalRequest},
				{Role: completion.RoleUser, Content: "My previous draft: " + d.budget().Fit(approved)},
			}
		},
	}

	g := NewGraph(WorkflowBasic, "draft", "finalize")
	g.Add(&Node{Stage: draft})
	g.Add(&Node{
		Stage:     review,
		Interrupt: true,
		Payload: func(st *run.State) map[string]any {
			content, _ := st.Output("draft")
			return map[string]any{"assistant_response": content}
		},
	})
	g.Add(&Node{Stage: finalize})
	return g
}
