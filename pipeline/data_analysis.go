package pipeline

import (
	"fmt"

	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/run"
)

// WorkflowDataAnalysis drives the explore-plan-code-execute pipeline with
// two interrupt points: plan review before code generation, and result
// review before the final report.
const WorkflowDataAnalysis = "data_analysis"

const explorePrompt = `You are a data analyst. Analyze the provided dataset preview and create a comprehensive data exploration report. Identify:
- Key features and their types
- Potential insights or patterns
- Data quality issues
- Interesting relationships between variables
- Recommendations for analysis

Format your response in a clear, structured manner.`

const planPrompt = `You are a data science consultant. Based on the data exploration report and user's query, create a detailed analysis plan. The plan should include:

1. Analysis objectives
2. Key questions to answer
3. Specific analyses to perform (statistical tests, correlations, trends, etc.)
4. Visualizations needed
5. Expected insights

Be specific and actionable. Consider the type of data and tailor the analysis accordingly.`

const codegenPrompt = `You are a Python data analyst. Generate comprehensive analysis code based on the plan.

The code should:
- Load the dataset from the path given in the DATASET variable
- Perform all analyses outlined in the plan
- Include data cleaning if needed
- Generate statistical summaries
- Be well-commented and executable
- Use pandas, matplotlib, seaborn as needed

Return ONLY the Python code, wrapped in a fenced code block.`

const codegenRevisePrompt = `You are a Python data analyst. Revise your code based on human feedback.

FEEDBACK FROM HUMAN: %q

Generate updated Python code that addresses the feedback. The code should:
- Load the dataset from the path given in the DATASET variable
- Perform the requested analyses
- Be well-commented and executable
- Use pandas, matplotlib, seaborn as needed

Return ONLY the Python code, wrapped in a fenced code block.`

const visualizePrompt = `You are a data visualization specialist. Based on the analysis results, generate Python code that produces the most informative charts for this dataset and saves each figure to a separate file in the working directory.

Return ONLY the Python code, wrapped in a fenced code block.`

const reportPrompt = `You are a data science report writer. Create a comprehensive final report that includes:

1. Executive Summary
2. Data Overview
3. Key Findings and Insights
4. Analysis Results
5. Visualizations Description
6. Conclusions and Recommendations

Make it professional, clear, and actionable. Include specific numbers and insights from the analysis.`

// NewDataAnalysisGraph builds the data-analysis pipeline.
func NewDataAnalysisGraph(d Deps) *Graph {
	explore := &GenerationStage{
		StageName:   "explore",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		NextStage:   "plan",
		Build: func(st *run.State) []completion.Message {
			preview := previewAttachment(d.Attachments, st.AttachmentRef, 4096)
			return []completion.Message{
				{Role: completion.RoleSystem, Content: explorePrompt},
				{Role: completion.RoleUser, Content: fmt.Sprintf(
					"Dataset: %s\n\nPreview:\n%s\n\nUser query: %s",
					st.AttachmentName, preview, st.OriginalRequest)},
			}
		},
	}

	plan := &GenerationStage{
		StageName:   "plan",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		NextStage:   "plan_review",
		Build: func(st *run.State) []completion.Message {
			exploration, _ := st.Output("explore")
			return []completion.Message{
				{Role: completion.RoleSystem, Content: planPrompt},
				{Role: completion.RoleUser, Content: fmt.Sprintf(
					"User Query: %s\n\nData Exploration:\n%s",
					st.OriginalRequest, d.budget().Fit(exploration))},
			}
		},
	}

	// Feedback on the plan flows forward into code generation as prompt
	// context rather than regenerating the plan itself.
	planReview := &ControlStage{
		StageName:    "plan_review",
		ReviewStage:  "plan",
		RegenStage:   "codegen",
		ApproveStage: "codegen",
	}

	codegen := &GenerationStage{
		StageName:        "codegen",
		Provider:         d.Provider,
		Model:            d.Model,
		Temperature:      d.Temperature,
		ConsumesFeedback: true,
		Transform:        stripCodeFences,
		NextStage:        "execute",
		Build: func(st *run.State) []completion.Message {
			system := codegenPrompt
			if st.HumanFeedback != "" {
				system = fmt.Sprintf(codegenRevisePrompt, st.HumanFeedback)
			}
			planOut, _ := st.Output("plan")
			exploration, _ := st.Output("explore")
			return []completion.Message{
				{Role: completion.RoleSystem, Content: system},
				{Role: completion.RoleUser, Content: "Analysis Plan:\n" + d.budget().Fit(planOut)},
				{Role: completion.RoleUser, Content: "Data Exploration:\n" + d.budget().Fit(exploration)},
				{Role: completion.RoleUser, Content: "DATASET: " + st.AttachmentRef},
				{Role: completion.RoleUser, Content: "User Query: " + st.OriginalRequest},
			}
		},
	}

	execute := &ExecStage{
		StageName:   "execute",
		Executor:    d.Executor,
		CodeStage:   "codegen",
		NextStage:   "visualize",
		RetryStage:  "codegen",
		MaxAttempts: 3,
	}

	visualize := &GenerationStage{
		StageName:   "visualize",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		Transform:   stripCodeFences,
		NextStage:   "render",
		Build: func(st *run.State) []completion.Message {
			results, _ := st.Output("execute")
			return []completion.Message{
				{Role: completion.RoleSystem, Content: visualizePrompt},
				{Role: completion.RoleUser, Content: "Analysis results:\n" + d.budget().Fit(results)},
				{Role: completion.RoleUser, Content: "DATASET: " + st.AttachmentRef},
			}
		},
	}

	render := &ExecStage{
		StageName:   "render",
		Executor:    d.Executor,
		CodeStage:   "visualize",
		NextStage:   "review",
		RetryStage:  "visualize",
		MaxAttempts: 2,
	}

	review := &ControlStage{
		StageName:    "review",
		ReviewStage:  "codegen",
		RegenStage:   "codegen",
		ApproveStage: "finalize",
	}

	finalize := &GenerationStage{
		StageName:   "finalize",
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		NextStage:   End,
		Build: func(st *run.State) []completion.Message {
			exploration, _ := st.Output("explore")
			planOut, _ := st.Output("plan")
			code, _ := st.Output("codegen")
			results, _ := st.Output("execute")
			return []completion.Message{
				{Role: completion.RoleSystem, Content: reportPrompt},
				{Role: completion.RoleUser, Content: fmt.Sprintf(
					"User Query: %s\n\nData Exploration:\n%s\n\nAnalysis Plan:\n%s\n\nGenerated Code:\n%s\n\nExecution Results:\n%s",
					st.OriginalRequest,
					d.budget().Fit(exploration),
					d.budget().Fit(planOut),
					d.budget().Fit(code),
					d.budget().Fit(results))},
			}
		},
	}

	g := NewGraph(WorkflowDataAnalysis, "explore", "finalize")
	g.FinalPayload = func(st *run.State) map[string]any {
		code, _ := st.Output("codegen")
		return map[string]any{
			"code":      code,
			"artifacts": st.Artifacts,
		}
	}
	g.Add(&Node{Stage: explore})
	g.Add(&Node{Stage: plan})
	g.Add(&Node{
		Stage:       planReview,
		Interrupt:   true,
		PauseStatus: "code_review",
		Payload: func(st *run.State) map[string]any {
			planOut, _ := st.Output("plan")
			return map[string]any{"analysis_plan": planOut}
		},
	})
	g.Add(&Node{Stage: codegen})
	g.Add(&Node{Stage: execute})
	g.Add(&Node{Stage: visualize})
	g.Add(&Node{Stage: render})
	g.Add(&Node{
		Stage:     review,
		Interrupt: true,
		Payload: func(st *run.State) map[string]any {
			code, _ := st.Output("codegen")
			return map[string]any{
				"code":      code,
				"artifacts": st.Artifacts,
			}
		},
	})
	g.Add(&Node{Stage: finalize})
	return g
}
