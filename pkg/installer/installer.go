// Package installer writes resolved packages into a project's modules
// directory.
//
// For each node it fetches the archive (from the local store when possible),
// verifies it against the expected integrity, extracts it into a staging
// directory and swaps it into place. It then applies the package's browser
// file map and writes an AMD shim next to the package directory so the
// package can be required by name. [Installer.Install] finishes a run by
// writing index.json, the root descriptor's saved dependencies and the lock
// file.
package installer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/apm/pkg/deps"
	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/observability"
	"github.com/matzehuels/apm/pkg/store"
)

// DefaultJobs bounds concurrent package installs.
const DefaultJobs = 8

// Fetcher downloads archives. [npm.Client] implements it.
type Fetcher interface {
	Tarball(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures an [Installer].
type Options struct {
	ModulesDir string      // install root, e.g. <project>/amd_modules
	Jobs       int         // concurrent installs (default: 8)
	Logger     *log.Logger // optional
}

// Installer installs resolved nodes.
type Installer struct {
	fetcher Fetcher
	store   *store.Store
	dir     string
	jobs    int
	logger  *log.Logger
}

// New creates an installer. The store caches verified archives across runs.
func New(fetcher Fetcher, s *store.Store, opts Options) *Installer {
	if opts.ModulesDir == "" {
		opts.ModulesDir = descriptor.DefaultModulesDir
	}
	if opts.Jobs <= 0 {
		opts.Jobs = DefaultJobs
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Installer{
		fetcher: fetcher,
		store:   s,
		dir:     opts.ModulesDir,
		jobs:    opts.Jobs,
		logger:  opts.Logger,
	}
}

// ModulesDir returns the install root.
func (in *Installer) ModulesDir() string { return in.dir }

// Result summarizes an install run.
type Result struct {
	Installed       []*deps.Node // nodes written to disk during this run
	SavedDescriptor bool         // package.json was rewritten
	SavedLock       bool         // the lock file was written
	Duration        time.Duration
}

// Install installs every node of g, then persists index.json, the saved
// dependencies of project and the lock file. Nothing is persisted when an
// install fails.
func (in *Installer) Install(ctx context.Context, g *deps.Graph, project *descriptor.Project) (*Result, error) {
	start := time.Now()
	installed, err := in.InstallNodes(ctx, g.InstallOrder())
	res := &Result{Installed: installed}
	defer func() {
		res.Duration = time.Since(start)
		observability.Install().OnInstallComplete(ctx, len(res.Installed), res.Duration, err)
	}()
	if err != nil {
		return res, err
	}

	if err = in.WriteIndex(g.InstallableNodes()); err != nil {
		return res, err
	}

	res.SavedDescriptor, err = project.SaveDependencies(g.SavedDependencies())
	if err != nil {
		return res, err
	}
	if !res.SavedDescriptor {
		if _, statErr := os.Stat(project.DescriptorPath()); project.InMemory || os.IsNotExist(statErr) {
			in.logger.Info("package.json not exist, skip saving")
		}
	}

	if project.InMemory {
		return res, nil
	}
	if err = g.Lockfile().Save(project.LockfilePath()); err != nil {
		return res, err
	}
	res.SavedLock = true
	return res, nil
}

// InstallNodes installs nodes concurrently and returns those it wrote, in
// input order. The first failure cancels the rest.
func (in *Installer) InstallNodes(ctx context.Context, nodes []*deps.Node) ([]*deps.Node, error) {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInstallFailed, err, "create %s", in.dir)
	}

	var mu sync.Mutex
	done := make(map[*deps.Node]bool)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.jobs)
	for _, n := range nodes {
		g.Go(func() error {
			wrote, err := in.installOne(ctx, n)
			if err != nil {
				return err
			}
			if wrote {
				mu.Lock()
				done[n] = true
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	var installed []*deps.Node
	for _, n := range nodes {
		if done[n] {
			installed = append(installed, n)
		}
	}
	return installed, err
}

// PackageDir is where name is installed.
func (in *Installer) PackageDir(name string) string {
	return filepath.Join(in.dir, filepath.FromSlash(name))
}

func (in *Installer) installOne(ctx context.Context, n *deps.Node) (bool, error) {
	if err := errors.ValidatePath(n.Name); err != nil {
		return false, err
	}
	target := in.PackageDir(n.Name)

	if d, err := descriptor.LoadInstalled(target); err == nil && d != nil &&
		d.Name == n.Name && d.Version == n.Version() {
		in.logger.Debug("already installed", "name", n.Name, "version", n.Version())
		return false, nil
	}

	archivePath, hash, err := in.fetchAndVerify(ctx, n)
	if err != nil {
		return false, err
	}
	n.Integrity = hash

	if err := in.extract(archivePath, target); err != nil {
		return false, err
	}

	installed, err := descriptor.LoadInstalled(target)
	if err != nil {
		return false, err
	}
	if installed == nil {
		installed = n.Descriptor
	}
	if err := in.applyBrowserMap(target, installed); err != nil {
		return false, err
	}
	if err := in.populateDescriptor(target, n); err != nil {
		return false, err
	}
	if err := in.writeShim(n.Name, installed); err != nil {
		return false, err
	}

	n.Status = deps.StatusInstalled
	in.logger.Debug("installed", "name", n.Name, "version", n.Version(), "dir", target)
	return true, nil
}
