package sections

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Graph is the dependency view over one document's sections. It answers the
// two questions the orchestrator asks: what does a section depend on, and
// what is a valid processing order.
type Graph struct {
	sections map[uuid.UUID]*Section
	deps     map[uuid.UUID][]uuid.UUID
	order    []uuid.UUID
}

// BuildGraph constructs a Graph from sections and their cross-reference
// edges. Edges referencing unknown sections are rejected, as are cycles:
// a document whose clauses reference each other circularly cannot be
// ordered and fails with ErrDependencyCycle.
func BuildGraph(secs []Section, edges []Edge) (*Graph, error) {
	byID := make(map[uuid.UUID]*Section, len(secs))
	for i := range secs {
		byID[secs[i].ID] = &secs[i]
	}

	deps := make(map[uuid.UUID][]uuid.UUID)
	dependents := make(map[uuid.UUID][]uuid.UUID)
	indegree := make(map[uuid.UUID]int, len(secs))
	for id := range byID {
		indegree[id] = 0
	}

	for _, e := range edges {
		if _, ok := byID[e.FromSectionID]; !ok {
			return nil, fmt.Errorf("%w: edge source %s", ErrUnknownSection, e.FromSectionID)
		}
		if _, ok := byID[e.ToSectionID]; !ok {
			return nil, fmt.Errorf("%w: edge target %s", ErrUnknownSection, e.ToSectionID)
		}
		deps[e.FromSectionID] = append(deps[e.FromSectionID], e.ToSectionID)
		dependents[e.ToSectionID] = append(dependents[e.ToSectionID], e.FromSectionID)
		indegree[e.FromSectionID]++
	}

	// Kahn's algorithm; ties resolve by document sequence so the order is
	// deterministic across runs.
	ready := make([]uuid.UUID, 0, len(secs))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]uuid.UUID, 0, len(secs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return byID[ready[i]].Sequence < byID[ready[j]].Sequence
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(secs) {
		return nil, ErrDependencyCycle
	}

	return &Graph{sections: byID, deps: deps, order: order}, nil
}

// Order returns section IDs in a topological order: every section appears
// after all sections it references.
func (g *Graph) Order() []uuid.UUID {
	out := make([]uuid.UUID, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the section IDs that the given section references.
func (g *Graph) Dependencies(id uuid.UUID) []uuid.UUID {
	deps := make([]uuid.UUID, len(g.deps[id]))
	copy(deps, g.deps[id])
	return deps
}

// Section returns the section with the given ID, or nil.
func (g *Graph) Section(id uuid.UUID) *Section {
	return g.sections[id]
}

// Len returns the number of sections in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}
