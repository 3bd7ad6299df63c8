package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/deps"
)

func (c *CLI) lsCommand() *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "Print the resolved dependency tree without installing",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			g, err := s.resolve(cmd.Context(), nil, deps.ResolveOptions{})
			if err != nil {
				return err
			}
			if long {
				printTable(cmd.OutOrStdout(), g, s.modulesDir())
			} else {
				printTree(cmd.OutOrStdout(), g)
			}
			printConflicts(g)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "print a table with version source and install path")
	return cmd
}
