package pipeline

import (
	"sort"

	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

// End is the terminal successor: a stage returning it finishes the run.
const End = "__end__"

// Node wraps a stage with its interrupt behavior and status payload.
type Node struct {
	Stage Stage
	// Interrupt pauses the run before this node executes, until human
	// input arrives.
	Interrupt bool
	// Payload contributes extra fields to the status frame emitted when
	// the run pauses at this node.
	Payload func(st *run.State) map[string]any
	// PauseStatus labels the status frame at this gate. Empty means
	// "user_feedback".
	PauseStatus string
}

// StatusLabel returns the status frame label for a pause at this node.
func (n *Node) StatusLabel() string {
	if n.PauseStatus != "" {
		return n.PauseStatus
	}
	return "user_feedback"
}

// AllowedKinds returns the input kinds accepted while paused at this
// node. Control stages declare their own; anything else takes approve
// and feedback.
func (n *Node) AllowedKinds() []types.InputKind {
	if cs, ok := n.Stage.(*ControlStage); ok {
		return cs.AllowedKinds()
	}
	return []types.InputKind{types.InputApprove, types.InputFeedback}
}

// Accepts reports whether kind is legal at this node.
func (n *Node) Accepts(kind types.InputKind) bool {
	for _, k := range n.AllowedKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Graph is one pipeline definition: named nodes, an entry point, and the
// stage whose committed output is the run's final content. Graphs are
// immutable after Validate; per-run context lives entirely in run.State.
type Graph struct {
	Name  string
	Entry string
	// FinalStage names the stage whose output the finished-status frame
	// reports as final_output.
	FinalStage string
	// FinalPayload contributes extra fields to the finished-status frame.
	FinalPayload func(st *run.State) map[string]any

	nodes map[string]*Node
}

// NewGraph creates an empty graph.
func NewGraph(name, entry, finalStage string) *Graph {
	return &Graph{
		Name:       name,
		Entry:      entry,
		FinalStage: finalStage,
		nodes:      make(map[string]*Node),
	}
}

// Add registers a node under its stage name.
func (g *Graph) Add(n *Node) *Graph {
	g.nodes[n.Stage.Name()] = n
	return g
}

// Node returns the named node.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Stages returns node names in sorted order.
func (g *Graph) Stages() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks structural coherence: entry and final stage exist, and
// every statically declared route targets a known node or End.
func (g *Graph) Validate() error {
	if g.Name == "" {
		return types.NewError(types.ErrValidationFailure, "graph name is required")
	}
	if _, ok := g.nodes[g.Entry]; !ok {
		return types.Errorf(types.ErrValidationFailure, "graph %s: entry node %q not found", g.Name, g.Entry)
	}
	if g.FinalStage != "" {
		if _, ok := g.nodes[g.FinalStage]; !ok {
			return types.Errorf(types.ErrValidationFailure, "graph %s: final stage %q not found", g.Name, g.FinalStage)
		}
	}
	for name, n := range g.nodes {
		if n.Stage == nil {
			return types.Errorf(types.ErrValidationFailure, "graph %s: node %q has no stage", g.Name, name)
		}
		r, ok := n.Stage.(router)
		if !ok {
			continue
		}
		for _, target := range r.Routes() {
			if target == End || target == "" {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return types.Errorf(types.ErrValidationFailure, "graph %s: node %q routes to unknown node %q", g.Name, name, target)
			}
		}
	}
	return nil
}

// Registry maps workflow type names to validated graphs.
type Registry struct {
	graphs map[string]*Graph
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*Graph)}
}

// Register validates and adds a graph.
func (r *Registry) Register(g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if _, exists := r.graphs[g.Name]; exists {
		return types.Errorf(types.ErrConflict, "workflow already registered: %s", g.Name)
	}
	r.graphs[g.Name] = g
	return nil
}

// Get returns the graph for a workflow type.
func (r *Registry) Get(name string) (*Graph, error) {
	g, ok := r.graphs[name]
	if !ok {
		return nil, types.Errorf(types.ErrUnknownWorkflow, "unknown workflow type: %s", name)
	}
	return g, nil
}

// Names returns registered workflow types in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
