package httputil

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/matzehuels/apm/pkg/errors"
)

// ErrNotFound is returned by [CheckStatus] for 404 responses.
var ErrNotFound = stderrors.New("resource not found")

// RetryableError wraps an error to mark a transient failure.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is wrapped with RetryableError.
func IsRetryable(err error) bool {
	return stderrors.As(err, new(*RetryableError))
}

// TransportError converts an error returned by http.Client.Do for url into
// a coded error. Context cancellation passes through unchanged so the CLI
// can map it to an interrupt exit code.
func TransportError(url string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &ne) && ne.Timeout()) {
		return Retryable(errors.Wrap(errors.ErrCodeTimeout, err, "request to %s timed out", url))
	}
	return Retryable(errors.Wrap(errors.ErrCodeNetwork, err, "request to %s failed", url))
}

// CheckStatus classifies a response status. 2xx and 3xx are accepted.
func CheckStatus(resp *http.Response) error {
	code := resp.StatusCode
	url := resp.Request.URL.Redacted()
	switch {
	case code >= 200 && code < 400:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.New(errors.ErrCodeUnauthorized, "%s: status %d", url, code)
	case code == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return Retryable(errors.Wrap(errors.ErrCodeRateLimited,
			&errors.RateLimitedError{RetryAfter: retryAfter}, "%s", url))
	case code >= 500:
		return Retryable(errors.New(errors.ErrCodeHTTP, "%s: status %d", url, code))
	default:
		return errors.New(errors.ErrCodeHTTP, "%s: %s", url, statusText(code))
	}
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return fmt.Sprintf("status %d %s", code, t)
	}
	return fmt.Sprintf("status %d", code)
}
