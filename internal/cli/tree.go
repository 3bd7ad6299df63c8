package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/matzehuels/apm/pkg/deps"
)

// edgeLabel formats one child line of the tree.
func edgeLabel(g *deps.Graph, e *deps.Edge) string {
	switch e.Status {
	case deps.StatusRemoved, deps.StatusNotInstalled:
		return e.Label() + " (" + e.Status.String() + ")"
	}
	if n := g.Node(e.Name); n != nil && n.Status == deps.StatusInstalled {
		return e.Label() + " (installed)"
	}
	return e.Label()
}

// renderTree draws the resolved graph from the root. A package already on
// the current path is printed once more without descending, so cycles
// terminate.
func renderTree(g *deps.Graph) string {
	root := g.Root()
	if root == nil {
		return ""
	}
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedLight)
	l.AppendItem(root.String())

	onPath := map[string]bool{}
	var walk func(n *deps.Node)
	walk = func(n *deps.Node) {
		onPath[n.Name] = true
		defer delete(onPath, n.Name)

		l.Indent()
		defer l.UnIndent()
		for _, e := range n.Children() {
			l.AppendItem(edgeLabel(g, e))
			if e.Status != deps.StatusNew || onPath[e.Name] {
				continue
			}
			if child := g.Node(e.Name); child != nil {
				walk(child)
			}
		}
	}
	walk(root)
	return l.Render()
}

func printTree(w io.Writer, g *deps.Graph) {
	if s := renderTree(g); s != "" {
		fmt.Fprintln(w, s)
	}
}

// printTable lists every resolved package with its on-disk location.
func printTable(w io.Writer, g *deps.Graph, modulesDir string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Version", "Status", "Source", "Refs", "Path"})
	for _, n := range g.InstallableNodes() {
		t.AppendRow(table.Row{
			n.Name,
			n.Version(),
			nodeStatus(n),
			n.Source.String(),
			strconv.Itoa(n.RefCount()),
			filepath.Join(modulesDir, filepath.FromSlash(n.Name)),
		})
	}
	t.Render()
}

func nodeStatus(n *deps.Node) string {
	switch {
	case n.Status == deps.StatusInstalled:
		return "installed"
	case n.Source == deps.SourceLocal:
		return "present"
	default:
		return "missing"
	}
}

// printConflicts repeats the conflicts of the run as a summary.
func printConflicts(g *deps.Graph) {
	for _, c := range g.Conflicts() {
		printWarning("%s", c.String())
	}
}
