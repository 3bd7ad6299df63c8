// Package npm provides a client for npm-compatible package registries.
//
// # Overview
//
// apm installs AMD packages published to any registry speaking the npm
// registry protocol: package metadata lives at GET <registry>/<name> and
// each version's archive at its dist.tarball URL.
//
// # Usage
//
//	client := npm.NewClient(npm.Options{
//	    Registry: "https://registry.npmjs.org",
//	    Cache:    metaCache,
//	    TTL:      5 * time.Minute,
//	})
//
//	meta, err := client.Metadata(ctx, "bar", false)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(meta.Name, meta.Latest())
//
// # Scopes
//
// Scoped packages (@scope/name) are looked up in the registry configured
// for their scope, falling back to the default registry. The scope segment
// is sent unescaped and the slash encoded (@scope%2Fname).
//
// # Caching
//
// Metadata is memoized for the lifetime of the client, and concurrent
// lookups of the same name share one request. Across runs, raw metadata
// documents are kept in a [cache.Cache] with a TTL; refresh=true skips the
// cached copy and stores the fresh one.
package npm
