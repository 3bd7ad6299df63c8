// Package deps resolves the dependency tree of an AMD project.
//
// # Overview
//
// A [Graph] holds one node per package name. Resolution starts from the
// project's root descriptor, processes its declared dependencies, then any
// packages named on the command line, and finally prunes root edges that
// nobody asked for:
//
//	g := deps.New(client, lock, deps.Options{ModulesDir: "amd_modules"})
//	err := g.Resolve(ctx, project.Descriptor, reqs, deps.ResolveOptions{Save: true})
//
// # Binding
//
// A new node is bound to the first of:
//
//  1. the copy already installed in the modules directory, if it satisfies
//     the range
//  2. the version pinned by the lock file, if it satisfies the range; pins
//     that carry a resolved URL need no registry lookup at all
//  3. the highest registry version satisfying the range
//
// Update requests skip the first two.
//
// # Deduplication and conflicts
//
// A request for a name that is already bound attaches a new edge when the
// bound version satisfies it. Otherwise the registry's best candidate is
// checked against every existing requirer: if they all accept it the node
// is rebound, and if not, the request with the higher priority wins.
// Priorities, highest first: packages named on the command line, root
// dependencies, versions pinned by the lock or a local copy, transitive
// requests. Ties go to the higher version. The loser keeps its edge,
// marked [StatusRemoved] or [StatusNotInstalled], and a [Conflict] is
// recorded.
//
// # Concurrency
//
// Requests for different names resolve concurrently; registry lookups are
// bounded by [Options.Jobs]. Requests for the same name are serialized in
// the order they were submitted. A node stops accepting children once it
// has been rebound or destroyed, so late results from an abandoned subtree
// are dropped.
//
// # Reference counting
//
// Every edge counts as a reference, including removed and not-installed
// ones. When a node loses its last parent it is destroyed along with any
// descendants that become unreferenced.
package deps
