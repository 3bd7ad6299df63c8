// Package nodelink renders a resolved dependency graph as a node-link
// diagram.
//
// [ToDOT] produces Graphviz DOT source with the project root at the top and
// one box per resolved package. Edges that lost a version conflict are
// drawn differently: a removed edge is dashed and labelled with the version
// it used to point at, a not-installed edge is dotted and labelled with
// the range that could not be honoured.
//
//	dot := nodelink.ToDOT(g, nodelink.Options{})
//	svg, err := nodelink.RenderSVG(ctx, dot)
//
// SVG rendering runs Graphviz in-process through
// [github.com/goccy/go-graphviz]; no external binaries are needed.
package nodelink
