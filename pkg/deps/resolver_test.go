package deps

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
	"github.com/matzehuels/apm/pkg/integrations/npm"
	"github.com/matzehuels/apm/pkg/lockfile"
	"github.com/matzehuels/apm/pkg/version"
)

type fakeRegistry struct {
	mu    sync.Mutex
	pkgs  map[string]*npm.Metadata
	calls map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{pkgs: map[string]*npm.Metadata{}, calls: map[string]int{}}
}

func (r *fakeRegistry) publish(name, ver string, deps map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.pkgs[name]
	if m == nil {
		m = &npm.Metadata{Name: name, Versions: map[string]*descriptor.Descriptor{}}
		r.pkgs[name] = m
	}
	m.Versions[ver] = desc(name, ver, deps)
}

func (r *fakeRegistry) Metadata(_ context.Context, name string, _ bool) (*npm.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
	m, ok := r.pkgs[name]
	if !ok {
		return nil, errors.New(errors.ErrCodePackageNotFound, "package %s not found", name)
	}
	return m, nil
}

func (r *fakeRegistry) callCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func desc(name, ver string, deps map[string]string) *descriptor.Descriptor {
	if deps == nil {
		deps = map[string]string{}
	}
	return &descriptor.Descriptor{
		Name:         name,
		Version:      ver,
		Dependencies: deps,
		MainEntry:    descriptor.DefaultMain,
		Dist:         descriptor.Dist{Tarball: "http://registry.test/" + name + "-" + ver + ".tgz"},
	}
}

func newTestGraph(t *testing.T, reg Registry, lock *lockfile.Lockfile) *Graph {
	t.Helper()
	return New(reg, lock, Options{ModulesDir: filepath.Join(t.TempDir(), "amd_modules")})
}

func mustResolve(t *testing.T, g *Graph, root *descriptor.Descriptor, reqs []version.Request, opts ResolveOptions) {
	t.Helper()
	if err := g.Resolve(context.Background(), root, reqs, opts); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func assertVersion(t *testing.T, g *Graph, name, want string) *Node {
	t.Helper()
	n := g.Node(name)
	if n == nil {
		t.Fatalf("node %s missing", name)
	}
	if n.Version() != want {
		t.Fatalf("%s bound to %s, want %s", name, n.Version(), want)
	}
	return n
}

func TestResolveDeduplicates(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("a", "1.0.0", map[string]string{"c": "^1.0.0"})
	reg.publish("b", "1.0.0", map[string]string{"c": "^1.1.0"})
	reg.publish("c", "1.0.0", nil)
	reg.publish("c", "1.1.0", nil)

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"a": "1.0.0", "b": "1.0.0"}), nil, ResolveOptions{})

	c := assertVersion(t, g, "c", "1.1.0")
	if c.RefCount() != 2 {
		t.Errorf("c refcount = %d, want 2", c.RefCount())
	}
	if got := c.Parents(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("c parents = %v", got)
	}
	if n := len(g.InstallableNodes()); n != 3 {
		t.Errorf("installable nodes = %d, want 3", n)
	}
	if len(g.Conflicts()) != 0 {
		t.Errorf("unexpected conflicts: %v", g.Conflicts())
	}
}

func TestResolveRespectsLockWithoutLookup(t *testing.T) {
	reg := newFakeRegistry()
	lock := lockfile.New("root", "1.0.0")
	lock.Set("bar", lockfile.Entry{
		Version:   "1.0.0",
		Integrity: "sha512-pinned",
		Resolved:  "http://registry.test/bar-1.0.0.tgz",
	})

	g := newTestGraph(t, reg, lock)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "^1.0.0"}), nil, ResolveOptions{})

	bar := assertVersion(t, g, "bar", "1.0.0")
	if bar.Source != SourceLock {
		t.Errorf("source = %v, want lock", bar.Source)
	}
	if bar.Integrity != "sha512-pinned" {
		t.Errorf("integrity = %q", bar.Integrity)
	}
	if n := reg.callCount("bar"); n != 0 {
		t.Errorf("registry consulted %d times for a fully pinned package", n)
	}
}

func TestResolveLockPinLooksUpDescriptor(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	lock := lockfile.New("root", "1.0.0")
	lock.Set("bar", lockfile.Entry{Version: "1.0.0"})

	g := newTestGraph(t, reg, lock)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "^1.0.0"}), nil, ResolveOptions{})

	if bar := assertVersion(t, g, "bar", "1.0.0"); bar.Source != SourceLock {
		t.Errorf("source = %v, want lock", bar.Source)
	}
}

func TestResolveUpdateIgnoresLock(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	lock := lockfile.New("root", "1.0.0")
	lock.Set("bar", lockfile.Entry{Version: "1.0.0", Resolved: "http://registry.test/bar-1.0.0.tgz"})

	g := newTestGraph(t, reg, lock)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "^1.0.0"}), nil, ResolveOptions{Update: true})

	if bar := assertVersion(t, g, "bar", "1.1.0"); bar.Source != SourceRegistry {
		t.Errorf("source = %v, want registry", bar.Source)
	}
}

func TestResolveReusesLocalCopy(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)

	modules := filepath.Join(t.TempDir(), "amd_modules")
	if err := os.MkdirAll(filepath.Join(modules, "bar"), 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name":"bar","version":"1.0.0","amdDependencies":{}}`
	if err := os.WriteFile(filepath.Join(modules, "bar", "package.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	g := New(reg, nil, Options{ModulesDir: modules})
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "^1.0.0"}), nil, ResolveOptions{})

	if bar := assertVersion(t, g, "bar", "1.0.0"); bar.Source != SourceLocal {
		t.Errorf("source = %v, want local", bar.Source)
	}
	if n := reg.callCount("bar"); n != 0 {
		t.Errorf("registry consulted %d times for a local package", n)
	}
}

func TestResolveRootBeatsTransitive(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	reg.publish("coo", "1.0.0", map[string]string{"bar": "<=1.0.0"})

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "1.1.0", "coo": "1.0.x"}), nil, ResolveOptions{})

	assertVersion(t, g, "bar", "1.1.0")
	conflicts := g.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %v", conflicts)
	}
	want := "version conflict: upgrade bar@<=1.0.0 (required by coo@1.0.0) to match 1.1.0 (required by root@1.0.0)"
	if got := conflicts[0].String(); got != want {
		t.Errorf("conflict =\n  %s\nwant\n  %s", got, want)
	}

	e := g.Node("coo").Child("bar")
	if e.Status != StatusRemoved || e.Label() != "bar@1.0.0" {
		t.Errorf("coo -> bar = %s (%s), want bar@1.0.0 (removed)", e.Label(), e.Status)
	}
	if g.Node("bar").RefCount() != 2 {
		t.Errorf("removed edge should still count as a reference")
	}
}

func TestResolveDeclaredAndExplicitConflictsMatch(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	reg.publish("coo", "1.0.0", map[string]string{"bar": "<=1.0.0"})

	declared := newTestGraph(t, reg, nil)
	mustResolve(t, declared, desc("index", "", map[string]string{"coo": "1.0.0", "bar": "1.1.0"}), nil, ResolveOptions{})

	explicit := newTestGraph(t, reg, nil)
	reqs := []version.Request{{Name: "bar", Range: "1.1.0"}}
	mustResolve(t, explicit, desc("index", "", map[string]string{"coo": "1.0.0"}), reqs, ResolveOptions{})

	for name, g := range map[string]*Graph{"declared": declared, "explicit": explicit} {
		assertVersion(t, g, "bar", "1.1.0")
		e := g.Node("coo").Child("bar")
		if e.Status != StatusRemoved || e.Label() != "bar@1.0.0" {
			t.Errorf("%s: coo -> bar = %s (%s), want bar@1.0.0 (removed)", name, e.Label(), e.Status)
		}
		if n := len(g.Conflicts()); n != 1 {
			t.Errorf("%s: %d conflicts, want 1", name, n)
		}
	}
}

func TestResolveExplicitUpgradeRemovesOldEdge(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	reg.publish("coo", "1.0.0", map[string]string{"bar": "<=1.0.0"})

	g := newTestGraph(t, reg, nil)
	root := desc("index", "", map[string]string{"coo": "1.0.0"})
	reqs := []version.Request{{Name: "bar", Range: "1.1.0"}}
	mustResolve(t, g, root, reqs, ResolveOptions{Save: true})

	assertVersion(t, g, "bar", "1.1.0")
	removed := g.Node("coo").Child("bar")
	if removed.Status != StatusRemoved || removed.Label() != "bar@1.0.0" {
		t.Errorf("coo -> bar = %s (%s), want bar@1.0.0 (removed)", removed.Label(), removed.Status)
	}
	if e := g.Root().Child("bar"); e.Label() != "bar@1.1.0" || e.Status != StatusNew {
		t.Errorf("root -> bar = %s (%s)", e.Label(), e.Status)
	}

	want := "version conflict: upgrade bar@<=1.0.0 (required by coo@1.0.0) to match 1.1.0 (required by index)"
	if c := g.Conflicts(); len(c) != 1 || c[0].String() != want {
		t.Errorf("conflicts = %v", c)
	}

	var labels []string
	for _, e := range g.Root().Children() {
		labels = append(labels, e.Label())
	}
	if !slices.Equal(labels, []string{"coo@1.0.0", "bar@1.1.0"}) {
		t.Errorf("root children = %v", labels)
	}
}

func TestResolvePinnedBeatsTransitive(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	reg.publish("coo", "1.0.0", map[string]string{"bar": "<=1.0.0"})
	reg.publish("doo", "1.0.1", map[string]string{"bar": "^1.1.0"})
	lock := lockfile.New("index", "")
	lock.Set("bar", lockfile.Entry{Version: "1.0.0", Resolved: "http://registry.test/bar-1.0.0.tgz"})

	g := newTestGraph(t, reg, lock)
	mustResolve(t, g, desc("index", "", map[string]string{"coo": "1.0.0"}), nil, ResolveOptions{})
	if err := g.AddDependency(context.Background(), g.Root(), "doo", "1.0.1", AddOptions{}); err != nil {
		t.Fatal(err)
	}

	assertVersion(t, g, "bar", "1.0.0")
	e := g.Node("doo").Child("bar")
	if e.Status != StatusNotInstalled || e.Label() != "bar@^1.1.0" {
		t.Errorf("doo -> bar = %s (%s)", e.Label(), e.Status)
	}
	want := "version conflict: upgrade bar@<=1.0.0 (required by coo@1.0.0) to match ^1.1.0 (required by doo@1.0.1)"
	if c := g.Conflicts(); len(c) != 1 || c[0].String() != want {
		t.Errorf("conflicts = %v", c)
	}
	if entry, _ := g.Lockfile().Pinned("bar"); entry.Version != "1.0.0" {
		t.Errorf("lock bar = %q, want 1.0.0", entry.Version)
	}
}

func TestResolveCompatibleRebindPrunesChildren(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("a", "1.0.0", map[string]string{"x": "1.0.0"})
	reg.publish("a", "1.1.0", map[string]string{"y": "1.0.0"})
	reg.publish("b", "1.0.0", map[string]string{"a": "1.1.0"})
	reg.publish("x", "1.0.0", nil)
	reg.publish("y", "1.0.0", nil)
	lock := lockfile.New("root", "1.0.0")
	lock.Set("a", lockfile.Entry{
		Version:      "1.0.0",
		Resolved:     "http://registry.test/a-1.0.0.tgz",
		Dependencies: map[string]string{"x": "1.0.0"},
	})

	g := newTestGraph(t, reg, lock)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"a": "^1.0.0", "b": "1.0.0"}), nil, ResolveOptions{})

	assertVersion(t, g, "a", "1.1.0")
	assertVersion(t, g, "y", "1.0.0")
	if g.Node("x") != nil {
		t.Error("x should be destroyed once a no longer depends on it")
	}
	if len(g.Conflicts()) != 0 {
		t.Errorf("compatible rebind should not conflict: %v", g.Conflicts())
	}
	if e := g.Root().Child("a"); e.Version != "1.1.0" {
		t.Errorf("root -> a displays %s", e.Version)
	}
}

func TestResolveErrors(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)

	tests := []struct {
		name    string
		deps    map[string]string
		reqs    []version.Request
		code    errors.Code
		message string
	}{
		{
			name:    "not found",
			deps:    map[string]string{"nope": "1.0.0"},
			code:    errors.ErrCodePackageNotFound,
			message: "package nope not found, required by root@1.0.0",
		},
		{
			name:    "unmet",
			deps:    map[string]string{"bar": "^2.0.0"},
			code:    errors.ErrCodeUnmetDependency,
			message: "package bar@^2.0.0 not available, required by root@1.0.0",
		},
		{
			name: "invalid request",
			reqs: []version.Request{{Name: "../bar"}},
			code: errors.ErrCodeInvalidPackageName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t, reg, nil)
			err := g.Resolve(context.Background(), desc("root", "1.0.0", tt.deps), tt.reqs, ResolveOptions{})
			if !errors.Is(err, tt.code) {
				t.Fatalf("Resolve() error = %v, want %s", err, tt.code)
			}
			if tt.message != "" && !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not mention %q", err, tt.message)
			}
		})
	}
}

func TestResolveCycle(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("a", "1.0.0", map[string]string{"b": "1.0.0"})
	reg.publish("b", "1.0.0", map[string]string{"a": "1.0.0", "c": "1.0.0"})
	reg.publish("c", "1.0.0", nil)

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"a": "1.0.0"}), nil, ResolveOptions{})

	if got := g.Cycles(); len(got) != 1 || !slices.Equal(got[0], []string{"a", "b"}) {
		t.Errorf("Cycles() = %v", got)
	}
	var order []string
	for _, n := range g.InstallOrder() {
		order = append(order, n.Name)
	}
	if !slices.Equal(order, []string{"c", "a", "b"}) {
		t.Errorf("InstallOrder() = %v", order)
	}
	if a := g.Node("a"); a.RefCount() != 2 {
		t.Errorf("a refcount = %d, want 2", a.RefCount())
	}
}

func TestInstallOrderDependenciesFirst(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("a", "1.0.0", map[string]string{"b": "1.0.0"})
	reg.publish("b", "1.0.0", map[string]string{"c": "1.0.0"})
	reg.publish("c", "1.0.0", nil)
	reg.publish("d", "1.0.0", nil)

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"a": "1.0.0", "d": "1.0.0"}), nil, ResolveOptions{})

	var order []string
	for _, n := range g.InstallOrder() {
		order = append(order, n.Name)
	}
	pos := func(name string) int { return slices.Index(order, name) }
	if !(pos("c") < pos("b") && pos("b") < pos("a")) || pos("d") < 0 {
		t.Errorf("InstallOrder() = %v", order)
	}
	if len(g.Cycles()) != 0 {
		t.Errorf("unexpected cycles: %v", g.Cycles())
	}
}

func TestSavedDependencies(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	reg.publish("coo", "1.0.2", nil)
	reg.publish("doo", "2.0.0", nil)

	tests := []struct {
		name string
		save bool
		want map[string]string
	}{
		{"save", true, map[string]string{"coo": "~1.0.0", "bar": "^1.1.0", "doo": "^2.0.0"}},
		{"no save", false, map[string]string{"coo": "~1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t, reg, nil)
			reqs := []version.Request{{Name: "bar"}, {Name: "doo", Range: "2.x"}}
			mustResolve(t, g, desc("root", "1.0.0", map[string]string{"coo": "~1.0.0"}), reqs, ResolveOptions{Save: tt.save})

			got := g.SavedDependencies()
			if len(got) != len(tt.want) {
				t.Fatalf("SavedDependencies() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestPruneDropsUndeclaredRootEdges(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", map[string]string{"baz": "1.0.0"})
	reg.publish("baz", "1.0.0", nil)

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("root", "1.0.0", nil), nil, ResolveOptions{})
	if err := g.AddDependency(context.Background(), g.Root(), "bar", "1.0.0", AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if g.Node("baz") == nil {
		t.Fatal("baz should be resolved through bar")
	}

	g.Prune(g.Root())
	if g.Node("bar") != nil || g.Node("baz") != nil {
		t.Error("prune should destroy the undeclared subtree")
	}
}

func TestUpdateOrInstallReplacesEdge(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	lock := lockfile.New("root", "1.0.0")
	lock.Set("bar", lockfile.Entry{Version: "1.0.0", Resolved: "http://registry.test/bar-1.0.0.tgz"})

	g := newTestGraph(t, reg, lock)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "^1.0.0"}), nil, ResolveOptions{})
	reg.publish("bar", "1.2.0", nil)

	if err := g.UpdateOrInstall(context.Background(), g.Root(), "bar", "^1.0.0", AddOptions{Listed: true}); err != nil {
		t.Fatal(err)
	}
	bar := assertVersion(t, g, "bar", "1.2.0")
	if bar.RefCount() != 1 {
		t.Errorf("refcount = %d, want 1", bar.RefCount())
	}
}

func TestLockfileSnapshot(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", map[string]string{"baz": "^1.0.0"})
	reg.publish("baz", "1.0.0", nil)

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("root", "1.0.0", map[string]string{"bar": "1.0.0"}), nil, ResolveOptions{})

	lock := g.Lockfile()
	if lock.Name != "root" || lock.Version != "1.0.0" {
		t.Errorf("lock root = %s@%s", lock.Name, lock.Version)
	}
	bar, ok := lock.Pinned("bar")
	if !ok || bar.Resolved != "http://registry.test/bar-1.0.0.tgz" || bar.Dependencies["baz"] != "^1.0.0" {
		t.Errorf("bar entry = %+v", bar)
	}
	if _, ok := lock.Pinned("baz"); !ok {
		t.Error("transitive dependency missing from lock")
	}
}

func TestAddDependencyUsesDeclaredRange(t *testing.T) {
	reg := newFakeRegistry()
	reg.publish("bar", "1.0.0", nil)
	reg.publish("bar", "1.1.0", nil)
	reg.publish("coo", "1.0.0", map[string]string{"bar": "~1.0.0"})

	g := newTestGraph(t, reg, nil)
	mustResolve(t, g, desc("index", "", map[string]string{"coo": "1.0.0"}), nil, ResolveOptions{})

	coo := g.Node("coo")
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.AddDependency(context.Background(), coo, "bar", "", AddOptions{}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assertVersion(t, g, "bar", "1.0.0")
	if e := coo.Child("bar"); e.Range != "~1.0.0" || e.Status != StatusNew {
		t.Errorf("coo -> bar range = %q (%s), want the declared ~1.0.0", e.Range, e.Status)
	}
	if c := g.Conflicts(); len(c) != 0 {
		t.Errorf("conflicts = %v", c)
	}
}
