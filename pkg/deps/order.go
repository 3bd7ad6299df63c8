package deps

import (
	"maps"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// directed builds a gonum graph over the non-root nodes with edges from
// each dependency to its dependents. Node IDs follow name order so that
// gonum's ID-stabilized sorts are name-stabilized too.
func (g *Graph) directed() (*simple.DirectedGraph, []*Node) {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := slices.Sorted(maps.Keys(g.nodes))
	ids := make(map[string]int64, len(names))
	nodes := make([]*Node, len(names))
	dg := simple.NewDirectedGraph()
	for i, name := range names {
		ids[name] = int64(i)
		nodes[i] = g.nodes[name]
		dg.AddNode(simple.Node(i))
	}
	for _, n := range nodes {
		for child := range n.children {
			id, ok := ids[child]
			if !ok || child == n.Name {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(id), simple.Node(ids[n.Name])))
		}
	}
	return dg, nodes
}

// InstallOrder returns the non-root nodes with every dependency ahead of
// its dependents. Members of a cycle are emitted together in name order.
func (g *Graph) InstallOrder() []*Node {
	dg, nodes := g.directed()
	sorted, err := topo.SortStabilized(dg, nil)

	var cycles topo.Unorderable
	if err != nil {
		cycles, _ = err.(topo.Unorderable)
	}
	out := make([]*Node, 0, len(nodes))
	for _, gn := range sorted {
		if gn != nil {
			out = append(out, nodes[gn.ID()])
			continue
		}
		if len(cycles) == 0 {
			continue
		}
		out = append(out, byName(cycles[0], nodes)...)
		cycles = cycles[1:]
	}
	return out
}

// Cycles returns every dependency cycle as a name-sorted list of packages.
func (g *Graph) Cycles() [][]string {
	dg, nodes := g.directed()
	var out [][]string
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		var names []string
		for _, n := range byName(scc, nodes) {
			names = append(names, n.Name)
		}
		out = append(out, names)
	}
	slices.SortFunc(out, func(a, b []string) int { return slices.Compare(a, b) })
	return out
}

func byName(component []graph.Node, nodes []*Node) []*Node {
	out := make([]*Node, 0, len(component))
	for _, gn := range component {
		out = append(out, nodes[gn.ID()])
	}
	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(a.Name, b.Name) })
	return out
}
