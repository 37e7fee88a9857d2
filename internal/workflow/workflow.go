// Package workflow defines the routing tables that stand in for the logical
// execution graph. No process ever holds a live graph object: each step
// re-derives "what's next" from the persisted baton alone, so routing works
// identically in-process and across task boundaries.
package workflow

import (
	"context"
	"strings"

	"taskline/internal/domain"

	"github.com/pkg/errors"
)

// NodeHandler is the external-collaborator contract: it receives the
// accumulated baton and returns a partial state to merge into it. An error
// signals node failure. Handlers must be idempotent under retry — the engine
// guarantees at-least-once execution, never exactly-once.
type NodeHandler func(ctx context.Context, state domain.State) (domain.State, error)

// Workflow is one workflow family: an entry node, a handler per node, and a
// pure routing function. Next must be deterministic given the baton and may
// hold no state of its own.
type Workflow interface {
	Name() string
	Entry() string
	Handler(node string) (NodeHandler, bool)

	// Next returns the node following the given one, or ok=false when the
	// chain is terminal.
	Next(node string, state domain.State) (next string, ok bool)
}

// graph is the shared routing-table implementation behind every family.
type graph struct {
	name     string
	entry    string
	handlers map[string]NodeHandler
	route    func(node string, state domain.State) string // "" means terminal
}

func (g *graph) Name() string  { return g.name }
func (g *graph) Entry() string { return g.entry }

func (g *graph) Handler(node string) (NodeHandler, bool) {
	h, ok := g.handlers[node]
	return h, ok
}

func (g *graph) Next(node string, state domain.State) (string, bool) {
	next := g.route(node, state)
	return next, next != ""
}

// New builds a workflow from a routing table. The route function returns ""
// for terminal nodes.
func New(name, entry string, handlers map[string]NodeHandler, route func(node string, state domain.State) string) Workflow {
	return &graph{name: name, entry: entry, handlers: handlers, route: route}
}

// Registry resolves task types ("<workflow>.<node>") to workflows.
type Registry struct {
	workflows map[string]Workflow
}

func NewRegistry(workflows ...Workflow) *Registry {
	r := &Registry{workflows: make(map[string]Workflow)}
	for _, wf := range workflows {
		r.workflows[wf.Name()] = wf
	}
	return r
}

// DefaultRegistry wires the three built-in workflow families.
func DefaultRegistry() *Registry {
	return NewRegistry(Daily(), Chat(), Research())
}

func (r *Registry) Get(name string) (Workflow, bool) {
	wf, ok := r.workflows[name]
	return wf, ok
}

// Resolve splits a task type by its workflow prefix and returns the workflow
// together with the node key.
func (r *Registry) Resolve(taskType string) (Workflow, string, error) {
	name, node, found := strings.Cut(taskType, ".")
	if !found || node == "" {
		return nil, "", errors.Errorf("malformed task type %q", taskType)
	}
	wf, ok := r.workflows[name]
	if !ok {
		return nil, "", errors.Errorf("unknown workflow %q", name)
	}
	if _, ok := wf.Handler(node); !ok {
		return nil, "", errors.Errorf("workflow %q has no node %q", name, node)
	}
	return wf, node, nil
}
