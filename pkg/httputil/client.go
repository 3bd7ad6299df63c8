package httputil

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/matzehuels/apm/pkg/observability"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Options configures [NewClient].
type Options struct {
	Timeout    time.Duration     // per-request timeout, default DefaultTimeout
	Token      string            // static bearer token; empty disables auth
	TokenHosts []string          // hosts (host[:port]) that receive Token; empty means all
	Transport  http.RoundTripper // base transport, default http.DefaultTransport
	UserAgent  string            // User-Agent header
}

// NewClient builds an HTTP client for registry access.
func NewClient(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var rt http.RoundTripper = &hookTransport{base: base, userAgent: opts.UserAgent}

	if opts.Token != "" {
		authed := &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: opts.Token,
				TokenType:   "Bearer",
			}),
			Base: rt,
		}
		if len(opts.TokenHosts) == 0 {
			rt = authed
		} else {
			rt = &hostAuth{hosts: opts.TokenHosts, authed: authed, plain: rt}
		}
	}
	return &http.Client{Transport: rt, Timeout: opts.Timeout}
}

// hostAuth sends the token only to the listed hosts, so tarballs served
// from elsewhere never see the registry credential.
type hostAuth struct {
	hosts  []string
	authed http.RoundTripper
	plain  http.RoundTripper
}

func (t *hostAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, h := range t.hosts {
		if strings.EqualFold(h, req.URL.Host) {
			return t.authed.RoundTrip(req)
		}
	}
	return t.plain.RoundTrip(req)
}

// hookTransport reports requests to the observability HTTP hooks.
type hookTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *hookTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host, path := req.URL.Host, req.URL.Path
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(ctx)
		req.Header.Set("User-Agent", t.userAgent)
	}

	hooks := observability.HTTP()
	hooks.OnRequest(ctx, req.Method, host, path)
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		return nil, err
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))
	return resp, nil
}
