package pipeline

import (
	"io"
	"strings"

	"github.com/BaSui01/interflow/analysis"
	"github.com/BaSui01/interflow/attach"
	"github.com/BaSui01/interflow/completion"
)

// Deps carries the external services graph builders wire into stages.
type Deps struct {
	Provider    completion.Provider
	Executor    analysis.Executor
	Attachments attach.Store
	// Budget bounds context fragments embedded in prompts. Nil gets the
	// default budget.
	Budget      *completion.Budget
	Model       string
	Temperature float32
}

func (d *Deps) budget() *completion.Budget {
	if d.Budget == nil {
		d.Budget = completion.NewBudget(0)
	}
	return d.Budget
}

// DefaultRegistry builds and registers every built-in workflow.
func DefaultRegistry(d Deps) (*Registry, error) {
	r := NewRegistry()
	for _, g := range []*Graph{
		NewBasicGraph(d),
		NewResearchGraph(d),
		NewEditableGraph(d),
		NewDataAnalysisGraph(d),
	} {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// stripCodeFences unwraps a markdown-fenced code block, tolerating prose
// around it. Plain text passes through unchanged.
func stripCodeFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line.
		if lang := strings.TrimSpace(rest[:nl]); lang == "" || !strings.ContainsAny(lang, " \t") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// previewAttachment reads the head of an uploaded dataset for prompt
// context. Failures degrade to a note instead of failing the stage; the
// model is told what it cannot see.
func previewAttachment(store attach.Store, ref string, maxBytes int) string {
	if ref == "" {
		return "No dataset provided."
	}
	if store == nil {
		return "Dataset preview unavailable."
	}
	rc, err := store.Open(ref)
	if err != nil {
		return "Dataset could not be read: " + err.Error()
	}
	defer rc.Close()

	if maxBytes <= 0 {
		maxBytes = 4096
	}
	raw, err := io.ReadAll(io.LimitReader(rc, int64(maxBytes)))
	if err != nil {
		return "Dataset could not be read: " + err.Error()
	}
	// Cut at the last full line so the preview never ends mid-record.
	preview := string(raw)
	if len(raw) == maxBytes {
		if nl := strings.LastIndexByte(preview, '\n'); nl > 0 {
			preview = preview[:nl]
		}
	}
	return preview
}
