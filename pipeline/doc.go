// Package pipeline defines stage graphs: the static structure of each
// workflow type. A graph names its nodes, marks interrupt points, and
// declares which stage's output is the final content. All per-run context
// lives in run.State; graphs themselves are immutable and shared.
//
// Three stage shapes cover every built-in workflow: GenerationStage
// streams from the completion provider, ControlStage consumes pending
// human input at an interrupt gate and branches, and ExecStage runs
// generated code through the analysis executor.
package pipeline
