package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/cache"
	"github.com/matzehuels/apm/pkg/config"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the archive store and the registry metadata cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheLsCommand())

	return cmd
}

func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached archive and metadata entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			archives, err := cfg.OpenStore()
			if err != nil {
				return err
			}
			n, err := archives.Clear()
			if err != nil {
				return fmt.Errorf("clear archives: %w", err)
			}

			m, err := clearMetadata(cmd, cfg)
			if err != nil {
				return fmt.Errorf("clear metadata: %w", err)
			}

			printSuccess("Cleared %d archives and %d metadata entries", n, m)
			printDetail("Directory: %s", cfg.Cache.Dir)
			return nil
		},
	}
}

func clearMetadata(cmd *cobra.Command, cfg *config.Config) (int, error) {
	meta, err := cfg.OpenCache(cmd.Context())
	if err != nil {
		return 0, err
	}
	defer meta.Close()

	switch m := meta.(type) {
	case *cache.FileCache:
		return m.Clear()
	case *cache.RedisCache:
		return m.Clear(cmd.Context())
	default:
		return 0, nil
	}
}

func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Cache.Dir)
			return nil
		},
	}
}

func (c *CLI) cacheLsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List cached archives with their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			archives, err := cfg.OpenStore()
			if err != nil {
				return err
			}
			entries, err := archives.Entries()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			style := table.StyleLight
			style.Format.Footer = text.FormatDefault
			t.SetStyle(style)
			t.AppendHeader(table.Row{"Name", "Version", "Size", "Stored"})
			t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
			var total int64
			for _, e := range entries {
				total += e.Size
				t.AppendRow(table.Row{e.Name, e.Version, formatBytes(e.Size), e.ModTime.Format("2006-01-02 15:04")})
			}
			t.AppendFooter(table.Row{strconv.Itoa(len(entries)) + " archives", "", formatBytes(total), ""})
			t.Render()
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
