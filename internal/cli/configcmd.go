package cli

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/config"
)

// configView is the printable form of config.Config: durations as strings
// and the token redacted.
type configView struct {
	Registry     string            `toml:"registry"`
	Scopes       map[string]string `toml:"scopes,omitempty"`
	Token        string            `toml:"token,omitempty"`
	FetchTimeout string            `toml:"fetch_timeout"`
	Jobs         int               `toml:"jobs"`
	LogLevel     string            `toml:"loglevel"`
	Prefix       string            `toml:"prefix,omitempty"`
	Cache        struct {
		Dir     string `toml:"dir"`
		Backend string `toml:"backend"`
		TTL     string `toml:"ttl"`
	} `toml:"cache"`
	Redis *redisView `toml:"redis,omitempty"`
}

type redisView struct {
	Addr string `toml:"addr"`
	DB   int    `toml:"db"`
}

func newConfigView(cfg *config.Config) configView {
	v := configView{
		Registry:     cfg.Registry,
		Scopes:       cfg.Scopes,
		FetchTimeout: cfg.FetchTimeout.String(),
		Jobs:         cfg.Jobs,
		LogLevel:     cfg.LogLevel,
		Prefix:       cfg.Prefix,
	}
	if cfg.Token != "" {
		v.Token = "<redacted>"
	}
	v.Cache.Dir = cfg.Cache.Dir
	v.Cache.Backend = cfg.Cache.Backend
	v.Cache.TTL = cfg.Cache.TTL.String()
	if cfg.Cache.Backend == config.BackendRedis {
		v.Redis = &redisView{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB}
	}
	return v
}

func (c *CLI) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Long: `Print the configuration after merging defaults, the user file, the
project's .apmrc.toml, APM_* environment variables and flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(newConfigView(cfg))
		},
	}
}
