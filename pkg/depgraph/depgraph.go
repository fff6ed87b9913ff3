package depgraph

import (
	"fmt"
	"strings"

	"github.com/looplab/tarjan"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

// Graph holds the declared dependency edges between process specs.
// Nodes are process IDs; an edge A -> B means A depends on B.
type Graph struct {
	dependsOn map[string][]string
	order     []string // declaration order, kept for deterministic iteration
}

func NewGraph() *Graph {
	return &Graph{
		dependsOn: make(map[string][]string),
	}
}

// Add declares a node with its dependencies
func (g *Graph) Add(id string, dependsOn []string) error {
	if _, exists := g.dependsOn[id]; exists {
		return errors.NewConflictError("process already declared in dependency graph", nil).
			WithContext("process_id", id)
	}

	deps := make([]string, len(dependsOn))
	copy(deps, dependsOn)

	g.dependsOn[id] = deps
	g.order = append(g.order, id)
	return nil
}

// IDs returns all declared node IDs in declaration order
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Dependencies returns the declared dependencies of a node
func (g *Graph) Dependencies(id string) []string {
	deps := make([]string, len(g.dependsOn[id]))
	copy(deps, g.dependsOn[id])
	return deps
}

// Validate checks that every dependency target is declared and that the graph
// is acyclic. It must pass before any process is launched.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.dependsOn[id] {
			if _, declared := g.dependsOn[dep]; !declared {
				return errors.NewValidationError(
					fmt.Sprintf("process %q depends on undeclared process %q", id, dep),
					nil,
				).WithContext("process_id", id).WithContext("depends_on", dep)
			}
			if dep == id {
				return errors.NewCyclicDependencyError(
					fmt.Sprintf("process %q depends on itself", id),
					nil,
				).WithContext("process_id", id)
			}
		}
	}

	// Strongly connected components larger than one node are cycles
	edges := make(map[interface{}][]interface{}, len(g.dependsOn))
	for id, deps := range g.dependsOn {
		targets := make([]interface{}, 0, len(deps))
		for _, dep := range deps {
			targets = append(targets, dep)
		}
		edges[id] = targets
	}

	connections := tarjan.Connections(edges)
	for _, component := range connections {
		if len(component) > 1 {
			nodes := make([]string, 0, len(component)+1)
			for i := range component {
				nodes = append(nodes, component[len(component)-i-1].(string))
			}
			nodes = append(nodes, nodes[0])
			return errors.NewCyclicDependencyError(
				fmt.Sprintf("cycle detected in process dependency graph: %s", strings.Join(nodes, " -> ")),
				nil,
			)
		}
	}

	return nil
}

// Eligible returns, in declaration order, the nodes whose dependencies are all
// contained in the done set and which are not listed in the started set
func (g *Graph) Eligible(done map[string]bool, started map[string]bool) []string {
	var eligible []string
	for _, id := range g.order {
		if started[id] {
			continue
		}
		satisfied := true
		for _, dep := range g.dependsOn[id] {
			if !done[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			eligible = append(eligible, id)
		}
	}
	return eligible
}
