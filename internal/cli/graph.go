package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/render/nodelink"
)

const (
	formatDOT = "dot"
	formatSVG = "svg"
)

func (c *CLI) graphCommand() *cobra.Command {
	var (
		format   string
		output   string
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the resolved dependency graph as DOT or SVG",
		Example: `  apm graph | dot -Tpng > deps.png
  apm graph --format svg -o deps.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatDOT && format != formatSVG {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatDOT, formatSVG)
			}
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			g, err := s.resolve(cmd.Context(), nil, deps.ResolveOptions{})
			if err != nil {
				return err
			}

			data := []byte(nodelink.ToDOT(g, nodelink.Options{Detailed: detailed}))
			if format == formatSVG {
				if data, err = nodelink.RenderSVG(cmd.Context(), string(data)); err != nil {
					return err
				}
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			printSuccess("Rendered %d packages", len(g.InstallableNodes()))
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatDOT, "output format (dot, svg)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to `FILE` instead of stdout")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "label nodes with version source and reference count")
	return cmd
}
