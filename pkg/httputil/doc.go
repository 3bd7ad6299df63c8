// Package httputil provides the HTTP plumbing shared by registry clients.
//
// # Clients
//
// [NewClient] builds an *http.Client with a per-request timeout, optional
// bearer-token authentication through golang.org/x/oauth2, and a transport
// that reports every request to the observability HTTP hooks.
//
// # Error classification
//
// Transport failures are converted into coded errors from package errors:
//
//   - timeouts become TIMEOUT and are wrapped in [RetryableError]
//   - connection failures become NETWORK_ERROR, also retryable
//   - 5xx responses become retryable HTTP_ERROR
//   - 404 becomes [ErrNotFound] so callers can attach their own context
//   - 429 becomes a RateLimitedError carrying Retry-After
//
// Nothing in this package retries. Retryable only marks failures that are
// worth re-running the whole command for.
package httputil
