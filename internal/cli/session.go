package cli

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/buildinfo"
	"github.com/matzehuels/apm/pkg/cache"
	"github.com/matzehuels/apm/pkg/config"
	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/installer"
	"github.com/matzehuels/apm/pkg/integrations/npm"
	"github.com/matzehuels/apm/pkg/lockfile"
	"github.com/matzehuels/apm/pkg/version"
)

// session is everything one command run needs: the effective
// configuration, the project it operates on and the registry client.
type session struct {
	cfg      *config.Config
	project  *descriptor.Project
	meta     cache.Cache
	registry *npm.Client
	logger   *log.Logger
}

// loadConfig reads the configuration for the -C directory and applies the
// resulting log level.
func (c *CLI) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(c.dir, cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	if c.verbose {
		level = log.DebugLevel
	}
	c.SetLogLevel(level)
	return cfg, nil
}

// open loads configuration and the project, and connects the metadata
// cache. Callers must close the session.
func (c *CLI) open(cmd *cobra.Command) (*session, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	project, err := descriptor.FindProject(c.dir)
	if err != nil {
		return nil, err
	}
	meta, err := cfg.OpenCache(cmd.Context())
	if err != nil {
		c.Logger.Warn("metadata cache unavailable, continuing without it", "backend", cfg.Cache.Backend, "err", err)
		meta = cache.NewNullCache()
	}
	c.Logger.Debug("project", "name", project.Name, "dir", project.Dir, "inMemory", project.InMemory)
	return &session{
		cfg:      cfg,
		project:  project,
		meta:     meta,
		registry: cfg.NewRegistryClient(meta, buildinfo.UserAgent()),
		logger:   c.Logger,
	}, nil
}

func (s *session) Close() error { return s.meta.Close() }

func (s *session) modulesDir() string { return s.project.ModulesDir(s.cfg.Prefix) }

// resolve builds the dependency graph for the project plus reqs.
func (s *session) resolve(ctx context.Context, reqs []version.Request, opts deps.ResolveOptions) (*deps.Graph, error) {
	lock, err := lockfile.Load(s.project.LockfilePath())
	if err != nil {
		return nil, err
	}
	g := deps.New(s.registry, lock, deps.Options{
		ModulesDir: s.modulesDir(),
		Jobs:       s.cfg.Jobs,
		Logger:     s.logger,
	})
	if err := g.Resolve(ctx, s.project.Descriptor, reqs, opts); err != nil {
		return nil, err
	}
	for _, cycle := range g.Cycles() {
		s.logger.Debug("dependency cycle", "packages", cycle)
	}
	return g, nil
}

// install resolves and installs, returning the graph for printing.
func (s *session) install(ctx context.Context, reqs []version.Request, opts deps.ResolveOptions) (*deps.Graph, *installer.Result, error) {
	g, err := s.resolve(ctx, reqs, opts)
	if err != nil {
		return nil, nil, err
	}
	archives, err := s.cfg.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	in := installer.New(s.registry, archives, installer.Options{
		ModulesDir: s.modulesDir(),
		Jobs:       s.cfg.Jobs,
		Logger:     s.logger,
	})
	res, err := in.Install(ctx, g, s.project)
	if err != nil {
		return nil, nil, err
	}
	return g, res, nil
}
