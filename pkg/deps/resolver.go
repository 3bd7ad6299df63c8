package deps

import (
	"context"
	stderrors "errors"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/integrations/npm"
	"github.com/matzehuels/apm/pkg/lockfile"
	"github.com/matzehuels/apm/pkg/observability"
	"github.com/matzehuels/apm/pkg/version"
)

// Graph is the dependency tree of one install run. Nodes are kept in an
// arena keyed by package name, so every name is bound to exactly one
// version.
//
// Work on a single name is serialized through a FIFO queue: the decision to
// create, attach to, or rebind a node runs for one request at a time, in
// submission order. Requests for different names run concurrently.
type Graph struct {
	registry Registry
	lock     *lockfile.Lockfile
	opts     Options
	logger   *log.Logger
	queue    *keyQueue
	sem      chan struct{}

	mu        sync.Mutex
	root      *Node
	nodes     map[string]*Node
	conflicts []Conflict
}

// New creates an empty graph. lock may be nil.
func New(registry Registry, lock *lockfile.Lockfile, opts Options) *Graph {
	opts = opts.WithDefaults()
	return &Graph{
		registry: registry,
		lock:     lock,
		opts:     opts,
		logger:   opts.Logger,
		queue:    newKeyQueue(),
		sem:      make(chan struct{}, opts.Jobs),
		nodes:    make(map[string]*Node),
	}
}

// request is one pending addDependency call.
type request struct {
	name    string
	rng     string
	opts    AddOptions
	replace bool
}

// Resolve builds the tree for root: its declared dependencies first, then
// the explicit requests, then prunes root edges nobody asked for.
func (g *Graph) Resolve(ctx context.Context, root *descriptor.Descriptor, reqs []version.Request, opts ResolveOptions) error {
	start := time.Now()
	observability.Install().OnResolveStart(ctx, root.Name)
	err := g.resolve(ctx, root, reqs, opts)
	observability.Install().OnResolveComplete(ctx, root.Name, len(g.InstallableNodes()), time.Since(start), err)
	return err
}

func (g *Graph) resolve(ctx context.Context, rootDesc *descriptor.Descriptor, reqs []version.Request, opts ResolveOptions) error {
	for _, r := range reqs {
		if err := errors.ValidatePackageName(r.Name); err != nil {
			return err
		}
	}
	for name := range rootDesc.Dependencies {
		if err := errors.ValidatePackageName(name); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidDescriptor, err, "invalid dependency in %s", rootDesc)
		}
	}

	root := newNode(rootDesc)
	root.root = true
	root.key = rootKey
	g.mu.Lock()
	g.root = root
	g.mu.Unlock()

	listed := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		listed[r.Name] = true
	}

	var declared []request
	for _, name := range slices.Sorted(maps.Keys(rootDesc.Dependencies)) {
		if listed[name] {
			continue
		}
		declared = append(declared, request{
			name: name,
			rng:  rootDesc.Dependencies[name],
			opts: AddOptions{Saved: true, Update: opts.Update && len(reqs) == 0},
		})
	}
	if err := g.populate(ctx, root, 0, declared); err != nil {
		return err
	}

	explicit := make([]request, 0, len(reqs))
	for _, r := range reqs {
		_, isDeclared := rootDesc.Dependencies[r.Name]
		explicit = append(explicit, request{
			name:    r.Name,
			rng:     r.Range,
			opts:    AddOptions{Listed: true, Saved: opts.Save || isDeclared, Update: opts.Update},
			replace: true,
		})
	}
	if err := g.populate(ctx, root, 0, explicit); err != nil {
		return err
	}

	g.Prune(root)
	return nil
}

// AddDependency requests name at rng on behalf of parent and waits until
// the request, and the subtree of any node it creates, is resolved.
func (g *Graph) AddDependency(ctx context.Context, parent *Node, name, rng string, opts AddOptions) error {
	g.mu.Lock()
	gen := parent.gen
	parent.addOrder(name)
	g.mu.Unlock()
	return g.populate(ctx, parent, gen, []request{{name: name, rng: rng, opts: opts}})
}

// UpdateOrInstall detaches parent's current edge to name, if any, and
// re-adds it with a fresh registry lookup.
func (g *Graph) UpdateOrInstall(ctx context.Context, parent *Node, name, rng string, opts AddOptions) error {
	opts.Update = true
	g.mu.Lock()
	gen := parent.gen
	parent.addOrder(name)
	g.mu.Unlock()
	return g.populate(ctx, parent, gen, []request{{name: name, rng: rng, opts: opts, replace: true}})
}

// populate runs reqs concurrently. Queue slots are taken here, in order,
// before any goroutine starts.
func (g *Graph) populate(ctx context.Context, parent *Node, gen int, reqs []request) error {
	if len(reqs) == 0 {
		return nil
	}
	g.mu.Lock()
	for _, r := range reqs {
		parent.addOrder(r.name)
	}
	g.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	for _, r := range reqs {
		t := g.queue.enqueue(r.name)
		eg.Go(func() error {
			return g.add(ctx, parent, gen, t, r)
		})
	}
	return eg.Wait()
}

func (g *Graph) populateChildren(ctx context.Context, n *Node) error {
	g.mu.Lock()
	gen := n.gen
	deps := maps.Clone(n.Dependencies())
	g.mu.Unlock()

	reqs := make([]request, 0, len(deps))
	for _, name := range slices.Sorted(maps.Keys(deps)) {
		reqs = append(reqs, request{name: name, rng: deps[name]})
	}
	return g.populate(ctx, n, gen, reqs)
}

// add is addDependency proper. The decision phase holds the name's queue
// slot; the slot is released before the subtree is populated so that
// dependency cycles cannot deadlock.
func (g *Graph) add(ctx context.Context, parent *Node, gen int, t *ticket, r request) error {
	if err := t.wait(ctx); err != nil {
		t.release()
		return err
	}
	n, err := g.decide(ctx, parent, gen, r)
	t.release()
	if err != nil || n == nil {
		return err
	}
	return g.populateChildren(ctx, n)
}

// errStale reports that the node a decision was based on was destroyed
// concurrently; the decision is retried.
var errStale = stderrors.New("stale node")

// decide binds, attaches or rebinds the node for r.name. It returns the
// node whose children must be (re)populated, if any.
func (g *Graph) decide(ctx context.Context, parent *Node, gen int, r request) (*Node, error) {
	for {
		n, err := g.decideOnce(ctx, parent, gen, r)
		if err != errStale {
			return n, err
		}
		r.replace = false
	}
}

func (g *Graph) decideOnce(ctx context.Context, parent *Node, gen int, r request) (*Node, error) {
	if !g.parentValid(parent, gen) {
		return nil, nil
	}
	if r.replace {
		g.mu.Lock()
		if parent.children[r.name] != nil {
			g.detachLocked(parent, r.name)
		}
		g.mu.Unlock()
	}

	rng, err := g.effectiveRange(ctx, parent, r)
	if err != nil {
		return nil, err
	}
	priority := requestPriority(parent, r.opts)

	g.mu.Lock()
	existing := g.nodes[r.name]
	g.mu.Unlock()

	if existing == nil {
		d, src, err := g.bind(ctx, parent, r.name, rng, r.opts.Update)
		if err != nil {
			return nil, err
		}
		n := newNode(d)
		n.Source = src
		n.Listed = r.opts.Listed
		n.Saved = r.opts.Saved
		n.Integrity = g.integrityFor(d)

		g.mu.Lock()
		defer g.mu.Unlock()
		if !g.parentValidLocked(parent, gen) {
			return nil, nil
		}
		g.nodes[n.Name] = n
		g.attachLocked(parent, n, rng, priority, StatusNew)
		g.logger.Debug("resolved", "name", n.Name, "version", n.Version(), "source", src, "parent", parent)
		return n, nil
	}

	if version.Satisfies(existing.Version(), rng) && !r.opts.Update {
		g.mu.Lock()
		defer g.mu.Unlock()
		if !g.parentValidLocked(parent, gen) {
			return nil, nil
		}
		if !existing.alive {
			return nil, errStale
		}
		g.attachLocked(parent, existing, rng, priority, StatusNew)
		existing.Listed = existing.Listed || r.opts.Listed
		existing.Saved = existing.Saved || r.opts.Saved
		g.logger.Debug("deduplicated", "name", existing.Name, "version", existing.Version(), "parent", parent)
		return nil, nil
	}

	candidate, err := g.fromRegistry(ctx, parent, r.name, rng, r.opts.Update)
	if err != nil {
		return nil, err
	}
	return g.reconcile(ctx, parent, gen, existing, candidate, rng, priority, r.opts)
}

// reconcile handles a request whose range the existing node does not
// satisfy, or an update that found a newer candidate.
//
// Policy: if every current requirer also accepts the candidate, the node
// is rebound without a conflict. Otherwise the request with the higher
// priority wins (explicit > root > pinned > transitive) and equal
// priorities go to the higher version. Losing edges stay attached: old
// requirers and transitive requests beaten by a root or explicit one are
// marked removed with the version they would have bound, any other losing
// request is marked not installed.
func (g *Graph) reconcile(ctx context.Context, parent *Node, gen int, n *Node, candidate *descriptor.Descriptor, rng string, priority int, opts AddOptions) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.parentValidLocked(parent, gen) {
		return nil, nil
	}
	if !n.alive {
		return nil, errStale
	}
	n.Listed = n.Listed || opts.Listed
	n.Saved = n.Saved || opts.Saved

	var incompatible []*Edge
	for _, key := range slices.Sorted(maps.Keys(n.parents)) {
		e := n.parents[key]
		if key == parent.key || e.Status != StatusNew {
			continue
		}
		if !version.Satisfies(candidate.Version, e.Range) {
			incompatible = append(incompatible, e)
		}
	}

	if len(incompatible) == 0 {
		if candidate.Version == n.Version() {
			g.attachLocked(parent, n, rng, priority, StatusNew)
			return nil, nil
		}
		g.logger.Debug("rebinding", "name", n.Name, "from", n.Version(), "to", candidate.Version)
		g.rebindLocked(n, candidate, SourceRegistry)
		g.attachLocked(parent, n, rng, priority, StatusNew)
		return n, nil
	}

	current := n.Version()
	newWins := priority > n.priority ||
		(priority == n.priority && version.Greater(candidate.Version, current))

	old := incompatible[0]
	c := Conflict{
		Name:     n.Name,
		Existing: Requirement{Range: old.Range, RequiredBy: old.parent.String()},
		Incoming: Requirement{Range: rng, RequiredBy: parent.String()},
		Upgrade:  version.Greater(candidate.Version, current),
	}

	if newWins {
		c.Kept, c.Rejected = candidate.Version, current
		for _, e := range incompatible {
			e.Status = StatusRemoved
			e.Version = current
		}
		g.rebindLocked(n, candidate, SourceRegistry)
		g.attachLocked(parent, n, rng, priority, StatusNew)
		g.recordLocked(ctx, c)
		return n, nil
	}

	c.Kept, c.Rejected = current, candidate.Version
	if priority == priorityTransitive && n.priority >= priorityRoot {
		// The dependent's own pick is dropped in favour of a declared one.
		g.attachLocked(parent, n, rng, priority, StatusRemoved)
		parent.children[n.Name].Version = candidate.Version
	} else {
		g.attachLocked(parent, n, rng, priority, StatusNotInstalled)
	}
	g.recordLocked(ctx, c)
	return nil, nil
}

func (g *Graph) recordLocked(ctx context.Context, c Conflict) {
	g.conflicts = append(g.conflicts, c)
	g.logger.Warn(c.String())
	observability.Install().OnConflict(ctx, c.Name, c.Kept, c.Rejected)
}

// effectiveRange fills in an omitted range: the parent's declared one, or
// a caret range on the latest published version.
func (g *Graph) effectiveRange(ctx context.Context, parent *Node, r request) (string, error) {
	if r.rng != "" {
		return r.rng, nil
	}
	// The parent's descriptor is swapped on rebind.
	g.mu.Lock()
	declared := parent.Dependencies()[r.name]
	g.mu.Unlock()
	if declared != "" {
		return declared, nil
	}
	meta, err := g.metadata(ctx, parent, r.name, r.opts.Update)
	if err != nil {
		return "", err
	}
	return version.DefaultRange(meta.Latest()), nil
}

// bind picks the descriptor for a new node: a satisfying local copy, then
// a satisfying lock pin, then the registry's best match.
func (g *Graph) bind(ctx context.Context, parent *Node, name, rng string, update bool) (*descriptor.Descriptor, Source, error) {
	if !update {
		if d := g.local(name); d != nil && version.Satisfies(d.Version, rng) {
			return d, SourceLocal, nil
		}
		if e, ok := g.lock.Pinned(name); ok && version.Satisfies(e.Version, rng) {
			if e.Resolved != "" {
				return lockedDescriptor(name, e), SourceLock, nil
			}
			meta, err := g.metadata(ctx, parent, name, false)
			if err != nil {
				return nil, 0, err
			}
			if d, ok := meta.Versions[e.Version]; ok {
				return d, SourceLock, nil
			}
		}
	}
	d, err := g.fromRegistry(ctx, parent, name, rng, update)
	return d, SourceRegistry, err
}

func lockedDescriptor(name string, e lockfile.Entry) *descriptor.Descriptor {
	deps := maps.Clone(e.Dependencies)
	if deps == nil {
		deps = map[string]string{}
	}
	return &descriptor.Descriptor{
		Name:         name,
		Version:      e.Version,
		Dependencies: deps,
		Dist:         descriptor.Dist{Tarball: e.Resolved, Integrity: e.Integrity},
		MainEntry:    descriptor.DefaultMain,
	}
}

func (g *Graph) local(name string) *descriptor.Descriptor {
	d, err := descriptor.LoadInstalled(filepath.Join(g.opts.ModulesDir, filepath.FromSlash(name)))
	if err != nil {
		g.logger.Debug("ignoring unreadable installed package", "name", name, "err", err)
		return nil
	}
	if d == nil || d.Name != name || d.Version == "" {
		return nil
	}
	return d
}

func (g *Graph) fromRegistry(ctx context.Context, parent *Node, name, rng string, refresh bool) (*descriptor.Descriptor, error) {
	meta, err := g.metadata(ctx, parent, name, refresh)
	if err != nil {
		return nil, err
	}
	v, ok, err := version.MaxSatisfying(meta.VersionList(), rng)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeUnmetDependency,
			"package %s@%s not available, required by %s", name, rng, parent)
	}
	return meta.Versions[v], nil
}

// metadata fetches through the registry, bounded by Options.Jobs.
func (g *Graph) metadata(ctx context.Context, parent *Node, name string, refresh bool) (*npm.Metadata, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-g.sem }()

	meta, err := g.registry.Metadata(ctx, name, refresh)
	if err != nil {
		if errors.Is(err, errors.ErrCodePackageNotFound) {
			return nil, errors.Wrap(errors.ErrCodePackageNotFound, err, "package %s not found, required by %s", name, parent)
		}
		return nil, err
	}
	return meta, nil
}

func (g *Graph) integrityFor(d *descriptor.Descriptor) string {
	if h, ok := g.lock.PinnedIntegrity(d.Name, d.Version); ok {
		return h
	}
	return d.Dist.Integrity
}

func requestPriority(parent *Node, opts AddOptions) int {
	switch {
	case opts.Listed || opts.Update:
		return priorityExplicit
	case parent.root:
		return priorityRoot
	default:
		return priorityTransitive
	}
}

func (g *Graph) parentValid(parent *Node, gen int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.parentValidLocked(parent, gen)
}

func (g *Graph) parentValidLocked(parent *Node, gen int) bool {
	return parent.alive && parent.gen == gen
}

// attachLocked adds (or replaces) the edge parent -> child.
func (g *Graph) attachLocked(parent, child *Node, rng string, priority int, status Status) {
	e := &Edge{
		Parent:   parent.key,
		Name:     child.Name,
		Range:    rng,
		Status:   status,
		Version:  child.Version(),
		parent:   parent,
		priority: priority,
	}
	parent.children[child.Name] = e
	parent.addOrder(child.Name)
	child.parents[parent.key] = e
	child.recomputePriority()
}

// detachLocked removes parent's edge to name and destroys the child when
// no parent is left.
func (g *Graph) detachLocked(parent *Node, name string) {
	delete(parent.children, name)
	child := g.nodes[name]
	if child == nil {
		return
	}
	delete(child.parents, parent.key)
	child.recomputePriority()
	if len(child.parents) == 0 {
		g.destroyLocked(child)
	}
}

func (g *Graph) destroyLocked(n *Node) {
	g.logger.Debug("destroying", "node", n)
	n.alive = false
	n.gen++
	delete(g.nodes, n.Name)
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		g.detachLocked(n, name)
	}
}

// rebindLocked moves n to another version. Its children are detached; the
// caller repopulates them from the new descriptor.
func (g *Graph) rebindLocked(n *Node, d *descriptor.Descriptor, src Source) {
	n.Descriptor = d
	n.Source = src
	n.Status = StatusNew
	n.Integrity = g.integrityFor(d)
	n.gen++
	for _, e := range n.parents {
		if e.Status == StatusNew {
			e.Version = d.Version
		}
	}
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		g.detachLocked(n, name)
	}
	n.recomputePriority()
}

// Prune removes n's edges to children its descriptor no longer declares,
// unless the child was listed on the command line.
func (g *Graph) Prune(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		if _, ok := n.Dependencies()[name]; ok {
			continue
		}
		if child := g.nodes[name]; child != nil && child.Listed && n.root {
			continue
		}
		g.detachLocked(n, name)
	}
}

// Root returns the root node, or nil before Resolve.
func (g *Graph) Root() *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.root
}

// Node returns the node bound to name, or nil.
func (g *Graph) Node(name string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[name]
}

// InstallableNodes returns every non-root node, sorted by name.
func (g *Graph) InstallableNodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, name := range slices.Sorted(maps.Keys(g.nodes)) {
		out = append(out, g.nodes[name])
	}
	return out
}

// SavedNodes returns the root's children marked saved, in request order.
func (g *Graph) SavedNodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		return nil
	}
	var out []*Node
	for _, e := range g.root.Children() {
		if n := g.nodes[e.Name]; n != nil && n.Saved {
			out = append(out, n)
		}
	}
	return out
}

// SavedDependencies is the dependency map to persist into the root
// descriptor: listed nodes save a caret range on their bound version,
// others keep the range already declared.
func (g *Graph) SavedDependencies() map[string]string {
	declared := map[string]string{}
	if root := g.Root(); root != nil {
		declared = root.Dependencies()
	}
	out := make(map[string]string)
	for _, n := range g.SavedNodes() {
		rng := declared[n.Name]
		if n.Listed || rng == "" {
			rng = version.FormatForSave(n.Version())
		}
		out[n.Name] = rng
	}
	return out
}

// Conflicts returns the version conflicts reported during resolution.
func (g *Graph) Conflicts() []Conflict {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.conflicts)
}

// Lockfile snapshots the graph as a lock document.
func (g *Graph) Lockfile() *lockfile.Lockfile {
	root := g.Root()
	lock := lockfile.New("", "")
	if root != nil {
		lock.Name, lock.Version = root.Name, root.Version()
	}
	for _, n := range g.InstallableNodes() {
		lock.Set(n.Name, lockfile.Entry{
			Version:      n.Version(),
			Integrity:    n.Integrity,
			Resolved:     n.Descriptor.Dist.Tarball,
			Dependencies: maps.Clone(n.Dependencies()),
		})
	}
	return lock
}
