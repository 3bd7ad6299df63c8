package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/version"
)

type installOpts struct {
	save   bool
	noSave bool
	update bool
	watch  bool
}

func (c *CLI) installCommand() *cobra.Command {
	var opts installOpts

	cmd := &cobra.Command{
		Use:     "install [name[@range]...]",
		Aliases: []string{"i"},
		Short:   "Install the project's dependencies, or add new ones",
		Long: `Install resolves amdDependencies from package.json, installs every package
into amd_modules and writes amd-lock.json.

Named packages are added to the tree and saved to package.json with a
caret range on the installed version, unless --no-save is given.`,
		Example: `  apm install
  apm install jquery@^3.0.0 @scope/widgets
  apm install --update jquery`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := version.ParseRequests(args)
			if err != nil {
				return err
			}
			resolve := deps.ResolveOptions{
				Update: opts.update,
				Save:   opts.save && !opts.noSave,
			}
			if opts.watch {
				return c.watch(cmd, func(ctx context.Context) error {
					return c.runInstall(ctx, cmd, reqs, resolve)
				})
			}
			return c.runInstall(cmd.Context(), cmd, reqs, resolve)
		},
	}

	cmd.Flags().BoolVar(&opts.save, "save", true, "save named packages to package.json")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not add named packages to package.json")
	cmd.Flags().BoolVarP(&opts.update, "update", "u", false, "ignore lock pins and installed copies of named packages")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-run the install whenever package.json changes")
	cmd.Flags().String("prefix", "", "install `DIR` (overrides amdPrefix)")

	return cmd
}

func (c *CLI) updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update [name...]",
		Short: "Update dependencies to the newest versions their ranges allow",
		Long: `Update re-resolves the named packages, or every dependency of the project
when none are named, against the registry. Lock pins and installed copies
are ignored for the updated packages and the new ranges are saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := version.ParseRequests(args)
			if err != nil {
				return err
			}
			return c.runInstall(cmd.Context(), cmd, reqs, deps.ResolveOptions{Update: true, Save: len(reqs) > 0})
		},
	}
}

func (c *CLI) runInstall(ctx context.Context, cmd *cobra.Command, reqs []version.Request, opts deps.ResolveOptions) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	prog := newProgress(c.Logger)
	spin := c.startSpinner(ctx, "Installing dependencies...")
	g, res, err := s.install(ctx, reqs, opts)
	spin.Stop()
	if err != nil {
		return err
	}

	printTree(cmd.OutOrStdout(), g)
	printConflicts(g)
	prog.done(fmt.Sprintf("Installed %d packages", len(res.Installed)))
	if res.SavedDescriptor {
		printFile(s.project.DescriptorPath())
	}
	if res.SavedLock {
		printFile(s.project.LockfilePath())
	}
	return nil
}

// stopper is a spinner, or nothing when output is not a terminal.
type stopper interface{ Stop() }

type nopStopper struct{}

func (nopStopper) Stop() {}

func (c *CLI) startSpinner(ctx context.Context, msg string) stopper {
	if !c.Interactive {
		return nopStopper{}
	}
	return startSpinnerOn(ctx, statusOut, msg)
}
