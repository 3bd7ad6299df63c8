package deps

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/apm/pkg/integrations/npm"
)

const (
	DefaultJobs       = 8             // Default concurrent subtree resolutions per node
	DefaultModulesDir = "amd_modules" // Default install directory
)

// Registry answers metadata lookups. [npm.Client] implements it.
type Registry interface {
	// Metadata returns the package document for name. With refresh set,
	// cross-run caches are bypassed.
	Metadata(ctx context.Context, name string, refresh bool) (*npm.Metadata, error)
}

// Options configures a [Graph].
type Options struct {
	ModulesDir string      // Installed packages, consulted for local reuse (default: amd_modules)
	Jobs       int         // Concurrent child resolutions per node (default: 8)
	Logger     *log.Logger // Debug and warning output (optional)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.ModulesDir == "" {
		opts.ModulesDir = DefaultModulesDir
	}
	if opts.Jobs <= 0 {
		opts.Jobs = DefaultJobs
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return opts
}

// Status describes a node or an edge in the resolved tree.
type Status int

const (
	// StatusNew marks a node bound during this run and not installed yet,
	// or an edge in good standing.
	StatusNew Status = iota
	// StatusInstalled marks a node written to disk during this run.
	StatusInstalled
	// StatusRemoved marks an edge superseded by a conflicting upgrade.
	StatusRemoved
	// StatusNotInstalled marks an edge whose range could not be honoured.
	StatusNotInstalled
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusRemoved:
		return "removed"
	case StatusNotInstalled:
		return "not installed"
	default:
		return ""
	}
}

// Source records where a node's bound version came from.
type Source int

const (
	SourceRegistry Source = iota // latest satisfying registry version
	SourceLock                   // pinned by the lock file
	SourceLocal                  // already present in the modules directory
)

func (s Source) String() string {
	switch s {
	case SourceLock:
		return "lock"
	case SourceLocal:
		return "local"
	default:
		return "registry"
	}
}

// ResolveOptions controls one [Graph.Resolve] run.
type ResolveOptions struct {
	// Update forces a fresh registry lookup for the explicit requests,
	// ignoring local copies and lock pins.
	Update bool
	// Save persists every root dependency into the descriptor, not only
	// the ones already declared there.
	Save bool
}

// AddOptions flags a single dependency request.
type AddOptions struct {
	Listed bool // named on the command line
	Saved  bool // written back to the root descriptor
	Update bool // bypass local copies and lock pins
}
