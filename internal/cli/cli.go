// Package cli implements the apm command-line interface.
package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/buildinfo"
	"github.com/matzehuels/apm/pkg/observability"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Interactive enables the progress spinner.
	Interactive bool

	dir     string
	verbose bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	c := &CLI{Logger: newLogger(w, level)}
	if f, ok := w.(*os.File); ok {
		c.Interactive = isatty.IsTerminal(f.Fd())
	}
	return c
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "apm",
		Short: "apm installs AMD modules from an npm-compatible registry",
		Long: `apm resolves the amdDependencies of a package.json into a deduplicated
dependency tree, installs every package into amd_modules and pins the
result in amd-lock.json.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.SetInstallHooks(&logHooks{logger: c.Logger})
			observability.SetCacheHooks(&logHooks{logger: c.Logger})
			observability.SetHTTPHooks(&logHooks{logger: c.Logger})
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	pf := root.PersistentFlags()
	pf.StringVarP(&c.dir, "dir", "C", ".", "run as if apm was started in `DIR`")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("registry", "", "registry `URL`")
	pf.String("cache-dir", "", "cache `DIR` for archives and metadata")
	pf.String("loglevel", "", "log level (debug, info, warn, error)")
	pf.Int("jobs", 0, "concurrent registry lookups and installs")

	root.AddCommand(c.installCommand())
	root.AddCommand(c.updateCommand())
	root.AddCommand(c.lsCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}
