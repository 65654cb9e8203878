package pipeline

import (
	"fmt"

	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/run"
)

// WorkflowResearch prepends a research stage to the draft-review loop.
const WorkflowResearch = "research"

const researchPrompt = `You are a research assistant. Your task is to provide comprehensive, well-structured research on the given topic. Include key points, important facts, and relevant context that would be useful for creating high-quality content on this topic.

Format your research in a clear, organized manner that can be easily used as a foundation for content creation.`

const researchDraftPrompt = `You are a professional content creator. Based on the research provided and the user's query, create a well-structured, engaging draft.

Your draft should:
- Be clear and well-organized
- Address the user's query comprehensively
- Use the research as a foundation but write in your own style
- Be ready for human review

Do not reference any previous feedback at this stage.`

const researchRevisePrompt = `You are a content creator revising your previous draft based on human feedback.

FEEDBACK FROM HUMAN: %q

Carefully incorporate this feedback into your content. Address all comments, corrections, or suggestions. Ensure your revised draft fully integrates the feedback while maintaining quality and coherence.

DO NOT repeat the feedback verbatim in your response.`

const researchFinalizePrompt = `You are a content editor. The user has approved the draft. Your task is to carefully review and polish the approved content, making final improvements to clarity, tone, and completeness.

Ensure the response is:
- Polished and professional
- Ready for final delivery
- Maintains the essence of the approved draft
- Has improved flow and readability

DO NOT significantly expand or change the content. Focus on polishing the approved draft that was just reviewed.`

// NewResearchGraph builds the research pipeline. Feedback loops back to
// the draft stage only; research runs once per run.
func NewResearchGraph(d Deps) *Graph {
	research := &GenerationStage{
		StageName:   "research",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		NextStage:   "draft",
		Build: func(st *run.State) []completion.Message {
			return []completion.Message{
				{Role: completion.RoleSystem, Content: researchPrompt},
				{Role: completion.RoleUser, Content: "Research topic: " + st.OriginalRequest},
			}
		},
	}

	draft := &GenerationStage{
		StageName:        "draft",
		Provider:         d.Provider,
		Model:            d.Model,
		Temperature:      d.Temperature,
		ConsumesFeedback: true,
		NextStage:        "review",
		Build: func(st *run.State) []completion.Message {
			researchOut, _ := st.Output("research")
			if st.HumanFeedback != "" {
				prev, _ := st.Output("draft")
				return []completion.Message{
					{Role: completion.RoleSystem, Content: fmt.Sprintf(researchRevisePrompt, st.HumanFeedback)},
					{Role: completion.RoleUser, Content: "Research context: " + d.budget().Fit(researchOut)},
					{Role: completion.RoleUser, Content: "Previous draft: " + d.budget().Fit(prev)},
					{Role: completion.RoleUser, Content: "User query: " + st.OriginalRequest},
				}
			}
			return []completion.Message{
				{Role: completion.RoleSystem, Content: researchDraftPrompt},
				{Role: completion.RoleUser, Content: "Research: " + d.budget().Fit(researchOut)},
				{Role: completion.RoleUser, Content: "User query: " + st.OriginalRequest},
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
				{Role: completion.RoleSystem, Content: researchFinalizePrompt},
				{Role: completion.RoleUser, Content: "Original query: " + st.OriginalRequest},
				{Role: completion.RoleUser, Content: "Approved draft to finalize: " + d.budget().Fit(approved)},
			}
		},
	}

	g := NewGraph(WorkflowResearch, "research", "finalize")
	g.Add(&Node{Stage: research})
	g.Add(&Node{Stage: draft})
	g.Add(&Node{
		Stage:     review,
		Interrupt: true,
		Payload: func(st *run.State) map[string]any {
			content, _ := st.Output("draft")
			return map[string]any{"draft_content": content}
		},
	})
	g.Add(&Node{Stage: finalize})
	return g
}
