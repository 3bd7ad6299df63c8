package deps

import (
	"maps"
	"slices"

	"github.com/matzehuels/apm/pkg/descriptor"
)

// rootKey identifies the root node in parent sets. It can never collide
// with a valid package name.
const rootKey = ""

// Node is one package in the resolved tree, bound to a single version.
//
// Fields are written only by the owning [Graph]; read them after
// [Graph.Resolve] returns.
type Node struct {
	Name       string
	Descriptor *descriptor.Descriptor

	// Integrity is the hash to verify the archive against: the lock's
	// when it pins this version, else the registry's.
	Integrity string

	Listed bool
	Saved  bool
	Status Status
	Source Source

	root     bool
	key      string
	parents  map[string]*Edge
	children map[string]*Edge
	order    []string
	priority int
	gen      int
	alive    bool
}

// Edge connects a parent to a child name with the range it requested.
type Edge struct {
	Parent string // parent package name, empty for the root
	Name   string
	Range  string
	Status Status

	// Version is what the edge displays: the bound version for live edges,
	// the superseded version for removed ones.
	Version string

	parent   *Node
	priority int
}

func newNode(d *descriptor.Descriptor) *Node {
	return &Node{
		Name:       d.Name,
		Descriptor: d,
		key:        d.Name,
		parents:    make(map[string]*Edge),
		children:   make(map[string]*Edge),
		alive:      true,
	}
}

// Version returns the bound version.
func (n *Node) Version() string { return n.Descriptor.Version }

// IsRoot reports whether n is the project root.
func (n *Node) IsRoot() bool { return n.root }

// RefCount is the number of parent edges.
func (n *Node) RefCount() int { return len(n.parents) }

// Parents returns parent names in sorted order; the root is "".
func (n *Node) Parents() []string {
	return slices.Sorted(maps.Keys(n.parents))
}

// Children returns the outgoing edges in the order they were requested.
func (n *Node) Children() []*Edge {
	out := make([]*Edge, 0, len(n.order))
	for _, name := range n.order {
		if e, ok := n.children[name]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Child returns the edge to name, or nil.
func (n *Node) Child(name string) *Edge { return n.children[name] }

// Dependencies returns the ranges the bound descriptor declares.
func (n *Node) Dependencies() map[string]string {
	return n.Descriptor.Dependencies
}

func (n *Node) String() string { return n.Descriptor.String() }

// Label formats an edge for tree output.
func (e *Edge) Label() string {
	switch e.Status {
	case StatusNotInstalled:
		return e.Name + "@" + e.Range
	default:
		return e.Name + "@" + e.Version
	}
}

// addOrder records name as a child slot, keeping first-request order.
func (n *Node) addOrder(name string) {
	if !slices.Contains(n.order, name) {
		n.order = append(n.order, name)
	}
}

// recomputePriority refreshes the node's standing from its live edges.
func (n *Node) recomputePriority() {
	p := priorityTransitive
	if n.Source != SourceRegistry {
		p = priorityPinned
	}
	for _, e := range n.parents {
		if e.Status == StatusNew && e.priority > p {
			p = e.priority
		}
	}
	n.priority = p
}

// Request priorities used by the conflict policy.
const (
	priorityTransitive = iota
	priorityPinned
	priorityRoot
	priorityExplicit
)
