package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/apm/pkg/deps"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Detailed adds the version source and reference count to node labels.
	Detailed bool
}

// ToDOT converts a resolved graph to Graphviz DOT.
func ToDOT(g *deps.Graph, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=24, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	root := g.Root()
	if root == nil {
		buf.WriteString("}\n")
		return buf.String()
	}
	fmt.Fprintf(&buf, "  %q [label=%q, fillcolor=lightgrey];\n", root.Name, root.String())
	for _, n := range g.InstallableNodes() {
		fmt.Fprintf(&buf, "  %q [%s];\n", n.Name, strings.Join(fmtAttrs(n, opts.Detailed), ", "))
	}

	buf.WriteString("\n")
	writeEdges(&buf, root)
	for _, n := range g.InstallableNodes() {
		writeEdges(&buf, n)
	}

	buf.WriteString("}\n")
	return buf.String()
}

func writeEdges(buf *bytes.Buffer, n *deps.Node) {
	for _, e := range n.Children() {
		var attrs []string
		switch e.Status {
		case deps.StatusRemoved:
			attrs = append(attrs, "style=dashed", "color=grey", fmt.Sprintf("label=%q", e.Version))
		case deps.StatusNotInstalled:
			attrs = append(attrs, "style=dotted", "color=red", fmt.Sprintf("label=%q", e.Range))
		}
		if len(attrs) == 0 {
			fmt.Fprintf(buf, "  %q -> %q;\n", n.Name, e.Name)
			continue
		}
		fmt.Fprintf(buf, "  %q -> %q [%s];\n", n.Name, e.Name, strings.Join(attrs, ", "))
	}
}

func fmtLabel(n *deps.Node, detailed bool) string {
	if !detailed {
		return n.String()
	}
	return fmt.Sprintf("%s\nsource: %s\nrefs: %d", n, n.Source, n.RefCount())
}

func fmtAttrs(n *deps.Node, detailed bool) []string {
	attrs := []string{fmt.Sprintf("label=%q", fmtLabel(n, detailed))}
	if n.Status == deps.StatusInstalled {
		attrs = append(attrs, "fillcolor=honeydew")
	}
	return attrs
}

// RenderSVG renders DOT source to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox replaces Graphviz's point-based size attributes so the
// SVG scales to its container.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}
