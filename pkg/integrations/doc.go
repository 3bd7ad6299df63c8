// Package integrations provides the HTTP core shared by registry clients.
//
// [Client] combines two concerns:
//
//   - streaming GET requests with default headers ([Client.Stream])
//   - read-through caching of decoded responses in a [cache.Cache]
//     ([Client.Cached], [Client.Invalidate])
//
// Protocol specifics live in subpackages; [npm] implements the npm-compatible
// registry protocol used to resolve AMD packages.
//
// Errors are classified by package httputil: 404 is [ErrNotFound], other
// failures carry an errors.Code and timeouts are marked retryable. Nothing
// here retries on its own.
package integrations
